package repositories

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/models"
)

func newRoom(t *testing.T, s *MemoryStore) models.Room {
	t.Helper()
	room, err := s.EnsureRoom(context.Background(), "job", "job:1", 2, 1)
	require.NoError(t, err)
	return room
}

func TestMemoryEnsureRoomIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.EnsureRoom(ctx, "job", "job:1", 1, 2)
	require.NoError(t, err)
	second, err := s.EnsureRoom(ctx, "job", "job:1", 2, 1)
	require.NoError(t, err)
	other, err := s.EnsureRoom(ctx, "job", "job:2", 1, 2)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Equal(t, []int64{1, 2}, first.Participants())

	_, err = s.EnsureRoom(ctx, "job", "job:3", 4, 4)
	assert.ErrorIs(t, err, ErrInvalidParticipants)
}

func TestMemoryPersistAssignsSequentialIDsAndCaches(t *testing.T) {
	s := NewMemoryStore()
	room := newRoom(t, s)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := s.Persist(ctx, models.NewMessage{RoomID: room.ID, SenderID: 1, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		assert.Equal(t, int64(i), res.Message.ID)
		assert.Equal(t, []int64{2}, res.Recipients)
		assert.Equal(t, res.Message.ID, res.Room.LastMessageID)
		assert.Equal(t, res.Message.Content, res.Room.LastMessageContent.String)
	}

	p, ok := s.Participant(room.ID, 2)
	require.True(t, ok)
	assert.Equal(t, 3, p.UnreadCount)

	sender, ok := s.Participant(room.ID, 1)
	require.True(t, ok)
	assert.Equal(t, 0, sender.UnreadCount)
}

func TestMemoryPersistRejectsOutsiders(t *testing.T) {
	s := NewMemoryStore()
	room := newRoom(t, s)

	_, err := s.Persist(context.Background(), models.NewMessage{RoomID: room.ID, SenderID: 9, Content: "x"})
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = s.Persist(context.Background(), models.NewMessage{RoomID: 404, SenderID: 1, Content: "x"})
	assert.ErrorIs(t, err, ErrRoomNotFound)

	got, err := s.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Zero(t, got.LastMessageID)
}

func TestMemoryPersistConcurrentWritersStayGapFree(t *testing.T) {
	s := NewMemoryStore()
	room := newRoom(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Persist(context.Background(), models.NewMessage{RoomID: room.ID, SenderID: int64(1 + i%2), Content: "x"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	page, hasMore, err := s.Page(context.Background(), room.ID, models.PageQuery{Limit: 100})
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, page, 50)
	for i, m := range page {
		assert.Equal(t, int64(i+1), m.ID)
	}

	got, err := s.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.LastMessageID)
}

func TestMemoryPersistDedupesCorrelationIDs(t *testing.T) {
	s := NewMemoryStore()
	room := newRoom(t, s)
	ctx := context.Background()

	first, err := s.Persist(ctx, models.NewMessage{RoomID: room.ID, SenderID: 1, Content: "Hello", TempID: "tmp-1"})
	require.NoError(t, err)

	again, err := s.Persist(ctx, models.NewMessage{RoomID: room.ID, SenderID: 1, Content: "Hello", TempID: "tmp-1"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Message.ID, again.Message.ID)

	retry, err := s.Persist(ctx, models.NewMessage{RoomID: room.ID, SenderID: 1, Content: "Hello", TempID: "tmp-2", RetryOf: "tmp-1"})
	require.NoError(t, err)
	assert.True(t, retry.Duplicate)
	assert.Equal(t, first.Message.ID, retry.Message.ID)

	p, _ := s.Participant(room.ID, 2)
	assert.Equal(t, 1, p.UnreadCount)
}

func TestMemoryPersistLateOriginalAfterRetry(t *testing.T) {
	s := NewMemoryStore()
	room := newRoom(t, s)
	ctx := context.Background()

	retry, err := s.Persist(ctx, models.NewMessage{RoomID: room.ID, SenderID: 1, Content: "Hello", TempID: "tmp-2", RetryOf: "tmp-1"})
	require.NoError(t, err)
	require.False(t, retry.Duplicate)

	late, err := s.Persist(ctx, models.NewMessage{RoomID: room.ID, SenderID: 1, Content: "Hello", TempID: "tmp-1"})
	require.NoError(t, err)
	assert.True(t, late.Duplicate)
	assert.Equal(t, retry.Message.ID, late.Message.ID)
}

func TestMemoryDedupeWindowIsBounded(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return now })
	room := newRoom(t, s)
	ctx := context.Background()

	_, err := s.Persist(ctx, models.NewMessage{RoomID: room.ID, SenderID: 1, Content: "Hello", TempID: "tmp-1"})
	require.NoError(t, err)

	now = now.Add(time.Hour)
	res, err := s.Persist(ctx, models.NewMessage{RoomID: room.ID, SenderID: 1, Content: "Hello", TempID: "tmp-1", DedupeSince: now.Add(-10 * time.Minute)})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(2), res.Message.ID)
}

func TestMemoryPaginationWalksBackwardWithoutGaps(t *testing.T) {
	s := NewMemoryStore()
	room := newRoom(t, s)
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		_, err := s.Persist(ctx, models.NewMessage{RoomID: room.ID, SenderID: 1, Content: "x"})
		require.NoError(t, err)
	}

	first, more, err := s.Page(ctx, room.ID, models.PageQuery{Limit: 50})
	require.NoError(t, err)
	require.Len(t, first, 50)
	assert.True(t, more)
	assert.Equal(t, int64(71), first[0].ID)
	assert.Equal(t, int64(120), first[49].ID)

	second, more, err := s.Page(ctx, room.ID, models.PageQuery{BeforeID: first[0].ID, Limit: 50})
	require.NoError(t, err)
	require.Len(t, second, 50)
	assert.True(t, more)
	assert.Equal(t, int64(21), second[0].ID)
	assert.Equal(t, int64(70), second[49].ID)

	third, more, err := s.Page(ctx, room.ID, models.PageQuery{BeforeID: second[0].ID, Limit: 50})
	require.NoError(t, err)
	require.Len(t, third, 20)
	assert.False(t, more)
	assert.Equal(t, int64(1), third[0].ID)

	after, more, err := s.Page(ctx, room.ID, models.PageQuery{AfterID: 100, Limit: 15})
	require.NoError(t, err)
	require.Len(t, after, 15)
	assert.True(t, more)
	assert.Equal(t, int64(101), after[0].ID)
}

func TestMemoryMarkReadClampsAndRecounts(t *testing.T) {
	s := NewMemoryStore()
	room := newRoom(t, s)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := s.Persist(ctx, models.NewMessage{RoomID: room.ID, SenderID: 1, Content: "x"})
		require.NoError(t, err)
	}

	state, err := s.MarkRead(ctx, room.ID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.LastReadID)
	assert.Equal(t, 2, state.UnreadCount)

	state, err = s.MarkRead(ctx, room.ID, 2, 1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(4), state.LastReadID)
	assert.Zero(t, state.UnreadCount)

	_, err = s.Persist(ctx, models.NewMessage{RoomID: room.ID, SenderID: 1, Content: "new"})
	require.NoError(t, err)
	p, _ := s.Participant(room.ID, 2)
	assert.Equal(t, 1, p.UnreadCount)

	state, err = s.MarkRead(ctx, room.ID, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), state.LastReadID)
	assert.Equal(t, 1, state.UnreadCount)

	page, _, err := s.Page(ctx, room.ID, models.PageQuery{Limit: 10})
	require.NoError(t, err)
	assert.True(t, page[3].IsRead)
	assert.False(t, page[4].IsRead)

	_, err = s.MarkRead(ctx, room.ID, 7, 1)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestMemoryMarkReadOnlyTouchesRowsAboveWatermark(t *testing.T) {
	s := NewMemoryStore()
	room := newRoom(t, s)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := s.Persist(ctx, models.NewMessage{RoomID: room.ID, SenderID: 1, Content: "x"})
		require.NoError(t, err)
	}

	_, err := s.MarkRead(ctx, room.ID, 2, 3)
	require.NoError(t, err)

	// Rows at or below the old watermark are never revisited.
	s.rooms[room.ID].messages[0].IsRead = false

	state, err := s.MarkRead(ctx, room.ID, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), state.LastReadID)
	assert.Equal(t, 1, state.UnreadCount)

	msgs := s.rooms[room.ID].messages
	assert.False(t, msgs[0].IsRead)
	assert.True(t, msgs[3].IsRead)
	assert.True(t, msgs[4].IsRead)
	assert.False(t, msgs[5].IsRead)
}

func TestMemoryListRoomsOrdersByActivity(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { now = now.Add(time.Second); return now })
	ctx := context.Background()

	a, err := s.EnsureRoom(ctx, "job", "job:a", 1, 2)
	require.NoError(t, err)
	b, err := s.EnsureRoom(ctx, "job", "job:b", 1, 3)
	require.NoError(t, err)
	_, err = s.EnsureRoom(ctx, "job", "job:c", 2, 3)
	require.NoError(t, err)

	_, err = s.Persist(ctx, models.NewMessage{RoomID: a.ID, SenderID: 2, Content: "ping"})
	require.NoError(t, err)

	rooms, err := s.ListRoomsForUser(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, a.ID, rooms[0].ID)
	assert.Equal(t, 1, rooms[0].UnreadCount)
	assert.Equal(t, b.ID, rooms[1].ID)

	capped, err := s.ListRoomsForUser(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, capped, 1)
}
