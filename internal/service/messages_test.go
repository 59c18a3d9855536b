package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-core/internal/mocks"
	"chat-core/internal/models"
	"chat-core/internal/repositories"
	"chat-core/pkg/protocol"
)

var testOpts = MessageOptions{MaxContentRunes: 10, DedupeWindow: 10 * time.Minute}

func persisted(id int64, tempID string) models.Message {
	m := models.Message{RoomID: 7, ID: id, SenderID: 1, Content: "hello", CreatedAt: time.Unix(1700000000, 0).UTC()}
	if tempID != "" {
		m.TempID.String, m.TempID.Valid = tempID, true
	}
	return m
}

func TestSendRejectsBeforeAnySideEffect(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	broadcaster := new(mocks.BroadcasterMock)
	svc := NewMessageService(repo, broadcaster, nil, testOpts, zerolog.Nop())

	cases := map[string]struct {
		in   SendInput
		code string
	}{
		"empty":     {SendInput{RoomID: 7, SenderID: 1, Content: " \n\t "}, CodeEmptyContent},
		"too long":  {SendInput{RoomID: 7, SenderID: 1, Content: strings.Repeat("é", 11)}, CodeContentTooLong},
		"temp id":   {SendInput{RoomID: 7, SenderID: 1, Content: "x", TempID: strings.Repeat("t", 129)}, CodeInvalidTempID},
		"retry key": {SendInput{RoomID: 7, SenderID: 1, Content: "x", RetryOf: strings.Repeat("t", 129)}, CodeInvalidTempID},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Send(context.Background(), tc.in)
			ve, ok := AsValidation(err)
			require.True(t, ok)
			assert.Equal(t, tc.code, ve.Code)
		})
	}
	repo.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
	broadcaster.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendPersistsTrimmedAndBroadcasts(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	broadcaster := new(mocks.BroadcasterMock)
	notifier := new(mocks.NotifierMock)
	svc := NewMessageService(repo, broadcaster, notifier, testOpts, zerolog.Nop())
	svc.now = func() time.Time { return time.Unix(1700000600, 0) }

	repo.On("Persist", mock.Anything, mock.MatchedBy(func(in models.NewMessage) bool {
		return in.RoomID == 7 && in.SenderID == 1 && in.Content == "hello" && in.TempID == "t1" &&
			in.DedupeSince.Equal(time.Unix(1700000000, 0))
	})).Return(models.PersistResult{Message: persisted(3, "t1"), Recipients: []int64{2}}, nil).Once()

	broadcaster.On("Broadcast", mock.Anything, int64(7), int64(1), mock.MatchedBy(func(f *protocol.NewMessage) bool {
		return f.TempID == "t1" && f.Message.ID == 3 && f.Message.TempID == ""
	})).Once()
	notifier.On("Notify", int64(2), mock.MatchedBy(func(m protocol.Message) bool { return m.ID == 3 })).Once()

	res, err := svc.Send(context.Background(), SendInput{RoomID: 7, SenderID: 1, Content: "  hello ", TempID: "t1"})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(3), res.Message.ID)

	repo.AssertExpectations(t)
	broadcaster.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestSendDuplicateEchoesOnlyToSender(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	broadcaster := new(mocks.BroadcasterMock)
	notifier := new(mocks.NotifierMock)
	svc := NewMessageService(repo, broadcaster, notifier, testOpts, zerolog.Nop())

	repo.On("Persist", mock.Anything, mock.Anything).
		Return(models.PersistResult{Message: persisted(3, "t1"), Duplicate: true}, nil).Once()
	broadcaster.On("Echo", mock.Anything, int64(1), mock.MatchedBy(func(f *protocol.NewMessage) bool {
		return f.TempID == "t2" && f.Message.ID == 3
	})).Once()

	res, err := svc.Send(context.Background(), SendInput{RoomID: 7, SenderID: 1, Content: "hello", TempID: "t2", RetryOf: "t1"})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	broadcaster.AssertExpectations(t)
	broadcaster.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestSendMapsRepositoryErrors(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	broadcaster := new(mocks.BroadcasterMock)
	svc := NewMessageService(repo, broadcaster, nil, testOpts, zerolog.Nop())

	repo.On("Persist", mock.Anything, mock.MatchedBy(func(in models.NewMessage) bool { return in.RoomID == 1 })).
		Return(nil, repositories.ErrRoomNotFound).Once()
	repo.On("Persist", mock.Anything, mock.MatchedBy(func(in models.NewMessage) bool { return in.RoomID == 2 })).
		Return(nil, repositories.ErrNotParticipant).Once()
	repo.On("Persist", mock.Anything, mock.MatchedBy(func(in models.NewMessage) bool { return in.RoomID == 3 })).
		Return(nil, assert.AnError).Once()

	_, err := svc.Send(context.Background(), SendInput{RoomID: 1, SenderID: 1, Content: "x"})
	ve, ok := AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnknownRoom, ve.Code)

	_, err = svc.Send(context.Background(), SendInput{RoomID: 2, SenderID: 1, Content: "x"})
	ve, ok = AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotParticipant, ve.Code)

	_, err = svc.Send(context.Background(), SendInput{RoomID: 3, SenderID: 1, Content: "x"})
	de, ok := AsDurability(err)
	require.True(t, ok)
	assert.Equal(t, OpPersist, de.Op)
	assert.ErrorIs(t, err, assert.AnError)

	broadcaster.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
