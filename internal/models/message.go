package models

import (
	"database/sql"
	"time"

	"chat-core/pkg/protocol"
)

// Message is a persisted chat message. Only IsRead changes after insert.
type Message struct {
	RoomID    int64          `db:"room_id" json:"room_id"`
	ID        int64          `db:"id" json:"id"`
	SenderID  int64          `db:"sender_id" json:"sender_id"`
	Content   string         `db:"content" json:"content"`
	TempID    sql.NullString `db:"temp_id" json:"-"`
	RetryOf   sql.NullString `db:"retry_of" json:"-"`
	IsRead    bool           `db:"is_read" json:"is_read"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Wire converts the message for viewer. Correlation ids are only shown to their sender.
func (m Message) Wire(viewer int64) protocol.Message {
	out := protocol.Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		IsRead:    m.IsRead,
	}
	if viewer == m.SenderID && m.TempID.Valid {
		out.TempID = m.TempID.String
	}
	return out
}

// NewMessage is the input of a persist.
type NewMessage struct {
	RoomID   int64
	SenderID int64
	Content  string
	TempID   string
	RetryOf  string
	// DedupeSince bounds how far back correlation ids are matched.
	DedupeSince time.Time
}

// PersistResult describes a committed (or deduplicated) message.
type PersistResult struct {
	Message    Message
	Room       Room
	Recipients []int64
	Duplicate  bool
}

// PageQuery selects a slice of room history. At most one cursor is set.
type PageQuery struct {
	BeforeID int64
	AfterID  int64
	Limit    int
}
