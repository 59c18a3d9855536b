package service

import (
	"context"
	"errors"
	"strings"

	"chat-core/internal/models"
	"chat-core/internal/repositories"
	"chat-core/pkg/protocol"
)

const defaultRoomType = "direct"

// RoomService provisions rooms and answers participant authorization.
type RoomService struct {
	rooms       repositories.RoomRepository
	maxRoomList int
}

func NewRoomService(rooms repositories.RoomRepository, maxRoomList int) *RoomService {
	return &RoomService{rooms: rooms, maxRoomList: maxRoomList}
}

// EnsureRoom is the provisioning entry point used by the collaborator that owns the context.
func (s *RoomService) EnsureRoom(ctx context.Context, roomType, contextRef string, a, b int64) (models.Room, error) {
	contextRef = strings.TrimSpace(contextRef)
	if contextRef == "" {
		return models.Room{}, invalid(CodeInvalidContext, "context_ref is required")
	}
	if a <= 0 || b <= 0 || a == b {
		return models.Room{}, invalid(CodeInvalidParticipants, "a room needs two distinct participants")
	}
	if strings.TrimSpace(roomType) == "" {
		roomType = defaultRoomType
	}

	room, err := s.rooms.EnsureRoom(ctx, roomType, contextRef, a, b)
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidParticipants) {
			return models.Room{}, invalid(CodeInvalidParticipants, err.Error())
		}
		return models.Room{}, &DurabilityError{Op: "ensure room", Err: err}
	}
	return room, nil
}

// ListRooms returns the user's rooms, capped server-side.
func (s *RoomService) ListRooms(ctx context.Context, userID int64) ([]protocol.RoomSummary, error) {
	rooms, err := s.rooms.ListRoomsForUser(ctx, userID, s.maxRoomList)
	if err != nil {
		return nil, &DurabilityError{Op: "list rooms", Err: err}
	}
	out := make([]protocol.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Wire())
	}
	return out, nil
}

// Authorize checks that the room exists and userID is in its participant set.
func (s *RoomService) Authorize(ctx context.Context, roomID, userID int64) (models.Room, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return models.Room{}, invalid(CodeUnknownRoom, "room does not exist")
		}
		return models.Room{}, &DurabilityError{Op: "load room", Err: err}
	}

	member, err := s.rooms.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return models.Room{}, &DurabilityError{Op: "check participant", Err: err}
	}
	if !member {
		return models.Room{}, invalid(CodeNotParticipant, "not a participant of this room")
	}
	return room, nil
}
