package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"chat-core/internal/models"
	"chat-core/internal/repositories"
	"chat-core/pkg/protocol"
)

type PageRequest struct {
	BeforeID *int64
	AfterID  *int64
	Limit    int
}

// HistoryService serves bounded history pages and maintains read watermarks.
type HistoryService struct {
	rooms        *RoomService
	messages     repositories.MessageRepository
	defaultLimit int
	maxLimit     int
	log          zerolog.Logger
}

func NewHistoryService(rooms *RoomService, messages repositories.MessageRepository, defaultLimit, maxLimit int, log zerolog.Logger) *HistoryService {
	return &HistoryService{
		rooms:        rooms,
		messages:     messages,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		log:          log.With().Str("component", "history").Logger(),
	}
}

// GetMessages returns one page of the room's history for userID. Viewing a page marks the
// room read up to the page's newest id; the resulting read state is returned when it was
// updated.
func (s *HistoryService) GetMessages(ctx context.Context, userID, roomID int64, req PageRequest) (protocol.Page, *models.ReadState, error) {
	q, err := s.query(req)
	if err != nil {
		return protocol.Page{}, nil, err
	}
	if _, err := s.rooms.Authorize(ctx, roomID, userID); err != nil {
		return protocol.Page{}, nil, err
	}

	msgs, hasMore, err := s.messages.Page(ctx, roomID, q)
	if err != nil {
		return protocol.Page{}, nil, &DurabilityError{Op: "load messages", Err: err}
	}

	page := protocol.Page{
		Messages: make([]protocol.Message, 0, len(msgs)),
		HasMore:  hasMore,
		Count:    len(msgs),
	}
	for _, m := range msgs {
		page.Messages = append(page.Messages, m.Wire(userID))
	}
	if len(msgs) == 0 {
		return page, nil, nil
	}

	oldest, newest := msgs[0].ID, msgs[len(msgs)-1].ID
	page.OldestID, page.NewestID = &oldest, &newest

	state, err := s.messages.MarkRead(ctx, roomID, userID, newest)
	if err != nil {
		s.log.Warn().Err(err).Int64("room_id", roomID).Int64("user_id", userID).Msg("mark read after page failed")
		return page, nil, nil
	}
	return page, &state, nil
}

// MarkRead moves the user's read watermark to upToID.
func (s *HistoryService) MarkRead(ctx context.Context, userID, roomID, upToID int64) (models.ReadState, error) {
	if upToID <= 0 {
		return models.ReadState{}, invalid(CodeInvalidCursor, "up_to_id must be positive")
	}
	if _, err := s.rooms.Authorize(ctx, roomID, userID); err != nil {
		return models.ReadState{}, err
	}

	state, err := s.messages.MarkRead(ctx, roomID, userID, upToID)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrRoomNotFound):
			return models.ReadState{}, invalid(CodeUnknownRoom, "room does not exist")
		case errors.Is(err, repositories.ErrNotParticipant):
			return models.ReadState{}, invalid(CodeNotParticipant, "not a participant of this room")
		}
		return models.ReadState{}, &DurabilityError{Op: "mark read", Err: err}
	}
	return state, nil
}

func (s *HistoryService) query(req PageRequest) (models.PageQuery, error) {
	if req.BeforeID != nil && req.AfterID != nil {
		return models.PageQuery{}, invalid(CodeInvalidCursor, "before and after cannot be combined")
	}

	q := models.PageQuery{Limit: req.Limit}
	if q.Limit <= 0 {
		q.Limit = s.defaultLimit
	}
	if q.Limit > s.maxLimit {
		q.Limit = s.maxLimit
	}

	if req.BeforeID != nil {
		if *req.BeforeID <= 0 {
			return models.PageQuery{}, invalid(CodeInvalidCursor, "before must be positive")
		}
		q.BeforeID = *req.BeforeID
	}
	if req.AfterID != nil {
		if *req.AfterID <= 0 {
			return models.PageQuery{}, invalid(CodeInvalidCursor, "after must be positive")
		}
		q.AfterID = *req.AfterID
	}
	return q, nil
}
