package models

import (
	"database/sql"
	"time"
)

// Participant is the per-user read model of a room.
type Participant struct {
	RoomID      int64        `db:"room_id" json:"room_id"`
	UserID      int64        `db:"user_id" json:"user_id"`
	UnreadCount int          `db:"unread_count" json:"unread_count"`
	LastReadID  int64        `db:"last_read_id" json:"last_read_id"`
	LastSeenAt  sql.NullTime `db:"last_seen_at" json:"-"`
	JoinedAt    time.Time    `db:"joined_at" json:"joined_at"`
}

// ReadState is the outcome of marking a room read.
type ReadState struct {
	RoomID      int64 `json:"room_id"`
	UserID      int64 `json:"user_id"`
	LastReadID  int64 `json:"up_to_id"`
	UnreadCount int   `json:"unread_count"`
}
