package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chat-core/internal/models"
	"chat-core/internal/observability"
	"chat-core/internal/repositories"
	"chat-core/pkg/protocol"
)

const maxTempIDLength = 128

// Broadcaster fans persisted messages out to live sessions.
type Broadcaster interface {
	// Broadcast delivers to every session subscribed to the room. The sender's own
	// session receives the frame even when it is not subscribed.
	Broadcast(ctx context.Context, roomID, senderID int64, frame *protocol.NewMessage)
	// Echo delivers only to the user's session.
	Echo(ctx context.Context, userID int64, frame *protocol.NewMessage)
}

// Notifier hands a message to offline delivery. Implementations must not block.
type Notifier interface {
	Notify(recipientID int64, msg protocol.Message)
}

type SendInput struct {
	RoomID   int64
	SenderID int64
	Content  string
	TempID   string
	RetryOf  string
}

type SendResult struct {
	Message   protocol.Message
	TempID    string
	Duplicate bool
}

type MessageOptions struct {
	MaxContentRunes int
	DedupeWindow    time.Duration
}

// MessageService validates and persists messages, then hands them to the broadcaster.
type MessageService struct {
	messages    repositories.MessageRepository
	broadcaster Broadcaster
	notifier    Notifier
	log         zerolog.Logger
	opts        MessageOptions
	now         func() time.Time
}

func NewMessageService(messages repositories.MessageRepository, broadcaster Broadcaster, notifier Notifier, opts MessageOptions, log zerolog.Logger) *MessageService {
	return &MessageService{
		messages:    messages,
		broadcaster: broadcaster,
		notifier:    notifier,
		log:         log.With().Str("component", "messages").Logger(),
		opts:        opts,
		now:         time.Now,
	}
}

// Send persists a message and fans it out after commit.
func (s *MessageService) Send(ctx context.Context, in SendInput) (SendResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		observability.IncMessagesPersisted("rejected")
		return SendResult{}, invalid(CodeEmptyContent, "message content is empty")
	}
	if s.opts.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.opts.MaxContentRunes {
		observability.IncMessagesPersisted("rejected")
		return SendResult{}, invalid(CodeContentTooLong, "message content is too long")
	}
	if len(in.TempID) > maxTempIDLength || len(in.RetryOf) > maxTempIDLength {
		observability.IncMessagesPersisted("rejected")
		return SendResult{}, invalid(CodeInvalidTempID, "temp id is too long")
	}

	ctx, span := otel.Tracer("chat-core/service").Start(ctx, "message.persist")
	span.SetAttributes(attribute.Int64("chat.room_id", in.RoomID), attribute.Int64("chat.sender_id", in.SenderID))
	defer span.End()

	start := time.Now()
	res, err := s.messages.Persist(ctx, models.NewMessage{
		RoomID:      in.RoomID,
		SenderID:    in.SenderID,
		Content:     content,
		TempID:      in.TempID,
		RetryOf:     in.RetryOf,
		DedupeSince: s.now().Add(-s.opts.DedupeWindow),
	})
	observability.ObservePersistDuration(time.Since(start))
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrRoomNotFound):
			observability.IncMessagesPersisted("rejected")
			return SendResult{}, invalid(CodeUnknownRoom, "room does not exist")
		case errors.Is(err, repositories.ErrNotParticipant):
			observability.IncMessagesPersisted("rejected")
			return SendResult{}, invalid(CodeNotParticipant, "not a participant of this room")
		}
		observability.IncMessagesPersisted("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		s.log.Error().Err(err).Int64("room_id", in.RoomID).Int64("sender_id", in.SenderID).Str("temp_id", in.TempID).Msg("persist failed")
		return SendResult{}, &DurabilityError{Op: OpPersist, Err: err}
	}

	frame := &protocol.NewMessage{
		RoomID:  res.Message.RoomID,
		Message: res.Message.Wire(0),
		TempID:  in.TempID,
	}

	if res.Duplicate {
		observability.IncMessagesPersisted("duplicate")
		s.log.Info().Int64("room_id", in.RoomID).Int64("message_id", res.Message.ID).Str("temp_id", in.TempID).Str("retry_of", in.RetryOf).Msg("duplicate send collapsed")
		s.broadcaster.Echo(ctx, in.SenderID, frame)
		return SendResult{Message: frame.Message, TempID: in.TempID, Duplicate: true}, nil
	}

	observability.IncMessagesPersisted("created")
	s.broadcaster.Broadcast(ctx, res.Message.RoomID, in.SenderID, frame)

	if s.notifier != nil {
		for _, recipient := range res.Recipients {
			s.notifier.Notify(recipient, frame.Message)
		}
	}

	return SendResult{Message: frame.Message, TempID: in.TempID}, nil
}
