package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-core/internal/models"
)

const roomColumns = `id, type, context_ref, user_low, user_high, last_message_id, last_message_content,
        last_message_sender_id, last_message_at, created_at, updated_at`

// RoomRepository abstracts room persistence and the participant set.
type RoomRepository interface {
	EnsureRoom(ctx context.Context, roomType, contextRef string, a, b int64) (models.Room, error)
	GetRoom(ctx context.Context, roomID int64) (models.Room, error)
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)
	ListRoomsForUser(ctx context.Context, userID int64, limit int) ([]models.RoomSummary, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// EnsureRoom returns the room for the context and participant pair, creating it on first use.
func (r *RoomRepo) EnsureRoom(ctx context.Context, roomType, contextRef string, a, b int64) (room models.Room, err error) {
	if a == b {
		return models.Room{}, ErrInvalidParticipants
	}
	low, high := sortPair(a, b)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.GetContext(ctx, &room, `INSERT INTO rooms (type, context_ref, user_low, user_high) VALUES ($1, $2, $3, $4)
        ON CONFLICT (context_ref, user_low, user_high) DO NOTHING
        RETURNING `+roomColumns, roomType, contextRef, low, high)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE context_ref=$1 AND user_low=$2 AND user_high=$3`, contextRef, low, high)
	}
	if err != nil {
		return models.Room{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2), ($1, $3)
        ON CONFLICT (room_id, user_id) DO NOTHING`, room.ID, low, high); err != nil {
		return models.Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// IsParticipant checks whether a user belongs to the room.
func (r *RoomRepo) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}

// ListRoomsForUser returns the user's rooms, most recently active first.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userID int64, limit int) ([]models.RoomSummary, error) {
	query := `SELECT r.id, r.type, r.context_ref, r.user_low, r.user_high, r.last_message_id, r.last_message_content,
        r.last_message_sender_id, r.last_message_at, r.created_at, r.updated_at,
        p.unread_count, p.last_read_id, p.last_seen_at
        FROM room_participants p
        JOIN rooms r ON r.id = p.room_id
        WHERE p.user_id=$1
        ORDER BY COALESCE(r.last_message_at, r.created_at) DESC, r.id DESC
        LIMIT $2`
	rooms := []models.RoomSummary{}
	err := r.db.SelectContext(ctx, &rooms, query, userID, limit)
	return rooms, err
}
