package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-core/internal/models"
)

const messageColumns = `room_id, id, sender_id, content, temp_id, retry_of, is_read, created_at`

// MessageRepository is the message ledger. It is the only writer of rooms' last message
// and of participants' unread counters.
type MessageRepository interface {
	Persist(ctx context.Context, in models.NewMessage) (models.PersistResult, error)
	Page(ctx context.Context, roomID int64, q models.PageQuery) ([]models.Message, bool, error)
	MarkRead(ctx context.Context, roomID, userID, upToID int64) (models.ReadState, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Persist appends a message to its room. The room row lock serializes writers per room, so
// ids are assigned as last_message_id+1 without gaps. A message from the same sender whose
// correlation ids overlap the input is returned as a duplicate instead.
func (r *MessageRepo) Persist(ctx context.Context, in models.NewMessage) (res models.PersistResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.PersistResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var room models.Room
	if err = tx.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1 FOR UPDATE`, in.RoomID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrRoomNotFound
		}
		return models.PersistResult{}, err
	}
	if !room.HasParticipant(in.SenderID) {
		err = ErrNotParticipant
		return models.PersistResult{}, err
	}

	if keys := correlationKeys(in); len(keys) > 0 {
		var existing models.Message
		query, args, inErr := sqlx.In(`SELECT `+messageColumns+` FROM messages
            WHERE room_id=? AND sender_id=? AND created_at >= ? AND (temp_id IN (?) OR retry_of IN (?))
            ORDER BY id ASC LIMIT 1`, in.RoomID, in.SenderID, in.DedupeSince, keys, keys)
		if inErr != nil {
			err = inErr
			return models.PersistResult{}, err
		}
		err = tx.GetContext(ctx, &existing, tx.Rebind(query), args...)
		switch {
		case err == nil:
			if err = tx.Commit(); err != nil {
				return models.PersistResult{}, err
			}
			return models.PersistResult{Message: existing, Room: room, Duplicate: true}, nil
		case !errors.Is(err, sql.ErrNoRows):
			return models.PersistResult{}, err
		}
		err = nil
	}

	var msg models.Message
	if err = tx.QueryRowxContext(ctx, `INSERT INTO messages (room_id, id, sender_id, content, temp_id, retry_of)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
        RETURNING `+messageColumns, in.RoomID, room.LastMessageID+1, in.SenderID, in.Content, in.TempID, in.RetryOf).
		StructScan(&msg); err != nil {
		return models.PersistResult{}, err
	}

	if err = tx.QueryRowxContext(ctx, `UPDATE rooms SET last_message_id=$2, last_message_content=$3,
        last_message_sender_id=$4, last_message_at=$5, updated_at=$5
        WHERE id=$1 RETURNING `+roomColumns, room.ID, msg.ID, msg.Content, msg.SenderID, msg.CreatedAt).
		StructScan(&room); err != nil {
		return models.PersistResult{}, err
	}

	var recipients []int64
	if err = tx.SelectContext(ctx, &recipients, `UPDATE room_participants SET unread_count = unread_count + 1
        WHERE room_id=$1 AND user_id<>$2 RETURNING user_id`, room.ID, msg.SenderID); err != nil {
		return models.PersistResult{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.PersistResult{}, err
	}
	return models.PersistResult{Message: msg, Room: room, Recipients: recipients}, nil
}

// Page returns up to q.Limit messages in ascending id order.
func (r *MessageRepo) Page(ctx context.Context, roomID int64, q models.PageQuery) ([]models.Message, bool, error) {
	var (
		msgs        []models.Message
		err         error
		newestFirst = true
	)
	switch {
	case q.AfterID > 0:
		newestFirst = false
		err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE room_id=$1 AND id > $2 ORDER BY id ASC LIMIT $3`, roomID, q.AfterID, q.Limit+1)
	case q.BeforeID > 0:
		err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE room_id=$1 AND id < $2 ORDER BY id DESC LIMIT $3`, roomID, q.BeforeID, q.Limit+1)
	default:
		err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE room_id=$1 ORDER BY id DESC LIMIT $2`, roomID, q.Limit+1)
	}
	if err != nil {
		return nil, false, err
	}
	page, hasMore := trimPage(msgs, q.Limit, newestFirst)
	return page, hasMore, nil
}

// MarkRead moves the participant's read watermark forward to upToID, capped at the room's
// newest message, and recomputes the unread counter below it.
func (r *MessageRepo) MarkRead(ctx context.Context, roomID, userID, upToID int64) (state models.ReadState, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.ReadState{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var lastID int64
	if err = tx.GetContext(ctx, &lastID, `SELECT last_message_id FROM rooms WHERE id=$1 FOR UPDATE`, roomID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrRoomNotFound
		}
		return models.ReadState{}, err
	}
	if upToID > lastID {
		upToID = lastID
	}

	var prevReadID int64
	if err = tx.GetContext(ctx, &prevReadID, `SELECT last_read_id FROM room_participants
        WHERE room_id=$1 AND user_id=$2 FOR UPDATE`, roomID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotParticipant
		}
		return models.ReadState{}, err
	}

	state = models.ReadState{RoomID: roomID, UserID: userID, LastReadID: prevReadID}
	if upToID > prevReadID {
		state.LastReadID = upToID
		if _, err = tx.ExecContext(ctx, `UPDATE messages SET is_read = TRUE
            WHERE room_id=$1 AND id > $2 AND id <= $3 AND sender_id<>$4`, roomID, prevReadID, upToID, userID); err != nil {
			return models.ReadState{}, err
		}
	}

	if err = tx.GetContext(ctx, &state.UnreadCount, `UPDATE room_participants
        SET last_read_id = $3, last_seen_at = NOW(), unread_count = (
            SELECT COUNT(*) FROM messages WHERE room_id=$1 AND sender_id<>$2 AND id > $3
        ) WHERE room_id=$1 AND user_id=$2 RETURNING unread_count`, roomID, userID, state.LastReadID); err != nil {
		return models.ReadState{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.ReadState{}, err
	}
	return state, nil
}
