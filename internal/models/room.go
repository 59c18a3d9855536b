package models

import (
	"database/sql"
	"time"

	"chat-core/pkg/protocol"
)

// Room is a conversation between exactly two participants inside an external context.
type Room struct {
	ID                  int64          `db:"id" json:"id"`
	Type                string         `db:"type" json:"type"`
	ContextRef          string         `db:"context_ref" json:"context_ref"`
	UserLow             int64          `db:"user_low" json:"user_low"`
	UserHigh            int64          `db:"user_high" json:"user_high"`
	LastMessageID       int64          `db:"last_message_id" json:"last_message_id"`
	LastMessageContent  sql.NullString `db:"last_message_content" json:"-"`
	LastMessageSenderID sql.NullInt64  `db:"last_message_sender_id" json:"-"`
	LastMessageAt       sql.NullTime   `db:"last_message_at" json:"-"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// Participants returns both members of the room in ascending order.
func (r Room) Participants() []int64 {
	return []int64{r.UserLow, r.UserHigh}
}

// HasParticipant reports whether userID is one of the room's members.
func (r Room) HasParticipant(userID int64) bool {
	return userID == r.UserLow || userID == r.UserHigh
}

// Other returns the member that is not userID.
func (r Room) Other(userID int64) int64 {
	if userID == r.UserLow {
		return r.UserHigh
	}
	return r.UserLow
}

// LastMessage returns the denormalized preview, or nil for an empty room.
func (r Room) LastMessage() *protocol.LastMessage {
	if r.LastMessageID == 0 {
		return nil
	}
	return &protocol.LastMessage{
		ID:        r.LastMessageID,
		Content:   r.LastMessageContent.String,
		SenderID:  r.LastMessageSenderID.Int64,
		CreatedAt: r.LastMessageAt.Time,
	}
}

// RoomSummary is a room as seen by one participant.
type RoomSummary struct {
	Room
	UnreadCount int          `db:"unread_count"`
	LastReadID  int64        `db:"last_read_id"`
	LastSeenAt  sql.NullTime `db:"last_seen_at"`
}

func (s RoomSummary) Wire() protocol.RoomSummary {
	out := protocol.RoomSummary{
		ID:           s.ID,
		Type:         s.Type,
		ContextRef:   s.ContextRef,
		Participants: s.Participants(),
		LastMessage:  s.LastMessage(),
		UnreadCount:  s.UnreadCount,
		UpdatedAt:    s.UpdatedAt,
	}
	if s.LastSeenAt.Valid {
		seen := s.LastSeenAt.Time
		out.LastSeenAt = &seen
	}
	return out
}
