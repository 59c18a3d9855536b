package repositories

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"chat-core/internal/models"
)

type memoryRoom struct {
	room         models.Room
	messages     []models.Message
	participants map[int64]*models.Participant
}

type roomKey struct {
	contextRef string
	low, high  int64
}

// MemoryStore implements RoomRepository and MessageRepository in process memory.
// It backs local development without a database and the service tests.
type MemoryStore struct {
	mu     sync.Mutex
	rooms  map[int64]*memoryRoom
	byKey  map[roomKey]int64
	nextID int64
	now    func() time.Time
}

var (
	_ RoomRepository    = (*MemoryStore)(nil)
	_ MessageRepository = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[int64]*memoryRoom),
		byKey: make(map[roomKey]int64),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the store's time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) EnsureRoom(ctx context.Context, roomType, contextRef string, a, b int64) (models.Room, error) {
	if a == b {
		return models.Room{}, ErrInvalidParticipants
	}
	low, high := sortPair(a, b)
	key := roomKey{contextRef: contextRef, low: low, high: high}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key]; ok {
		return s.rooms[id].room, nil
	}

	s.nextID++
	now := s.now()
	mr := &memoryRoom{
		room: models.Room{
			ID:         s.nextID,
			Type:       roomType,
			ContextRef: contextRef,
			UserLow:    low,
			UserHigh:   high,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		participants: map[int64]*models.Participant{
			low:  {RoomID: s.nextID, UserID: low, JoinedAt: now},
			high: {RoomID: s.nextID, UserID: high, JoinedAt: now},
		},
	}
	s.rooms[mr.room.ID] = mr
	s.byKey[key] = mr.room.ID
	return mr.room, nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.rooms[roomID]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	return mr.room, nil
}

func (s *MemoryStore) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	_, member := mr.participants[userID]
	return member, nil
}

func (s *MemoryStore) ListRoomsForUser(ctx context.Context, userID int64, limit int) ([]models.RoomSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.RoomSummary{}
	for _, mr := range s.rooms {
		p, ok := mr.participants[userID]
		if !ok {
			continue
		}
		out = append(out, models.RoomSummary{
			Room:        mr.room,
			UnreadCount: p.UnreadCount,
			LastReadID:  p.LastReadID,
			LastSeenAt:  p.LastSeenAt,
		})
	}

	activity := func(r models.Room) time.Time {
		if r.LastMessageAt.Valid {
			return r.LastMessageAt.Time
		}
		return r.CreatedAt
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := activity(out[i].Room), activity(out[j].Room)
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Persist(ctx context.Context, in models.NewMessage) (models.PersistResult, error) {
	if err := ctx.Err(); err != nil {
		return models.PersistResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.rooms[in.RoomID]
	if !ok {
		return models.PersistResult{}, ErrRoomNotFound
	}
	if _, member := mr.participants[in.SenderID]; !member {
		return models.PersistResult{}, ErrNotParticipant
	}

	if keys := correlationKeys(in); len(keys) > 0 {
		if existing, found := mr.findCorrelated(in.SenderID, keys, in.DedupeSince); found {
			return models.PersistResult{Message: existing, Room: mr.room, Duplicate: true}, nil
		}
	}

	now := s.now()
	msg := models.Message{
		RoomID:    in.RoomID,
		ID:        mr.room.LastMessageID + 1,
		SenderID:  in.SenderID,
		Content:   in.Content,
		TempID:    nullString(in.TempID),
		RetryOf:   nullString(in.RetryOf),
		CreatedAt: now,
	}
	mr.messages = append(mr.messages, msg)

	mr.room.LastMessageID = msg.ID
	mr.room.LastMessageContent = sql.NullString{String: msg.Content, Valid: true}
	mr.room.LastMessageSenderID = sql.NullInt64{Int64: msg.SenderID, Valid: true}
	mr.room.LastMessageAt = sql.NullTime{Time: now, Valid: true}
	mr.room.UpdatedAt = now

	recipients := make([]int64, 0, len(mr.participants))
	for userID, p := range mr.participants {
		if userID == in.SenderID {
			continue
		}
		p.UnreadCount++
		recipients = append(recipients, userID)
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i] < recipients[j] })

	return models.PersistResult{Message: msg, Room: mr.room, Recipients: recipients}, nil
}

func (s *MemoryStore) Page(ctx context.Context, roomID int64, q models.PageQuery) ([]models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.rooms[roomID]
	if !ok {
		return []models.Message{}, false, nil
	}
	all := mr.messages

	var picked []models.Message
	newestFirst := true
	switch {
	case q.AfterID > 0:
		newestFirst = false
		start := sort.Search(len(all), func(i int) bool { return all[i].ID > q.AfterID })
		for i := start; i < len(all) && len(picked) <= q.Limit; i++ {
			picked = append(picked, all[i])
		}
	default:
		end := len(all)
		if q.BeforeID > 0 {
			end = sort.Search(len(all), func(i int) bool { return all[i].ID >= q.BeforeID })
		}
		for i := end - 1; i >= 0 && len(picked) <= q.Limit; i-- {
			picked = append(picked, all[i])
		}
	}

	page, hasMore := trimPage(picked, q.Limit, newestFirst)
	return page, hasMore, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, roomID, userID, upToID int64) (models.ReadState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.rooms[roomID]
	if !ok {
		return models.ReadState{}, ErrRoomNotFound
	}
	p, ok := mr.participants[userID]
	if !ok {
		return models.ReadState{}, ErrNotParticipant
	}

	if upToID > mr.room.LastMessageID {
		upToID = mr.room.LastMessageID
	}
	p.LastSeenAt = sql.NullTime{Time: s.now(), Valid: true}

	// Ids are dense from 1, so message id n sits at index n-1. Only the rows between the
	// old and new watermark change, and only the tail above the watermark is counted.
	if upToID > p.LastReadID {
		for i := p.LastReadID; i < upToID; i++ {
			if m := &mr.messages[i]; m.SenderID != userID {
				m.IsRead = true
			}
		}
		p.LastReadID = upToID
	}

	unread := 0
	for i := p.LastReadID; i < int64(len(mr.messages)); i++ {
		if mr.messages[i].SenderID != userID {
			unread++
		}
	}
	p.UnreadCount = unread

	return models.ReadState{RoomID: roomID, UserID: userID, LastReadID: p.LastReadID, UnreadCount: unread}, nil
}

// Participant returns a copy of a participant's read model.
func (s *MemoryStore) Participant(roomID, userID int64) (models.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.rooms[roomID]
	if !ok {
		return models.Participant{}, false
	}
	p, ok := mr.participants[userID]
	if !ok {
		return models.Participant{}, false
	}
	return *p, true
}

func (mr *memoryRoom) findCorrelated(senderID int64, keys []string, since time.Time) (models.Message, bool) {
	for _, m := range mr.messages {
		if m.SenderID != senderID || m.CreatedAt.Before(since) {
			continue
		}
		for _, k := range keys {
			if (m.TempID.Valid && m.TempID.String == k) || (m.RetryOf.Valid && m.RetryOf.String == k) {
				return m, true
			}
		}
	}
	return models.Message{}, false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
