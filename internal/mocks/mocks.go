package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-core/internal/models"
	"chat-core/internal/repositories"
	"chat-core/pkg/protocol"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) EnsureRoom(ctx context.Context, roomType, contextRef string, a, b int64) (models.Room, error) {
	args := m.Called(ctx, roomType, contextRef, a, b)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) ListRoomsForUser(ctx context.Context, userID int64, limit int) ([]models.RoomSummary, error) {
	args := m.Called(ctx, userID, limit)
	var list []models.RoomSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.RoomSummary)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Persist(ctx context.Context, in models.NewMessage) (models.PersistResult, error) {
	args := m.Called(ctx, in)
	var res models.PersistResult
	if val := args.Get(0); val != nil {
		res = val.(models.PersistResult)
	}
	return res, args.Error(1)
}

func (m *MessageRepositoryMock) Page(ctx context.Context, roomID int64, q models.PageQuery) ([]models.Message, bool, error) {
	args := m.Called(ctx, roomID, q)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, roomID, userID, upToID int64) (models.ReadState, error) {
	args := m.Called(ctx, roomID, userID, upToID)
	var state models.ReadState
	if val := args.Get(0); val != nil {
		state = val.(models.ReadState)
	}
	return state, args.Error(1)
}

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) Broadcast(ctx context.Context, roomID, senderID int64, frame *protocol.NewMessage) {
	m.Called(ctx, roomID, senderID, frame)
}

func (m *BroadcasterMock) Echo(ctx context.Context, userID int64, frame *protocol.NewMessage) {
	m.Called(ctx, userID, frame)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) Notify(recipientID int64, msg protocol.Message) {
	m.Called(recipientID, msg)
}

var (
	_ repositories.RoomRepository    = (*RoomRepositoryMock)(nil)
	_ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
)
