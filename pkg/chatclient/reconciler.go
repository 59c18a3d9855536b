// Package chatclient is the client side of the realtime chat protocol: a reconnecting
// connection plus the optimistic-send state that merges history, live frames and local
// pending messages into one ordered view per room.
package chatclient

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-core/pkg/protocol"
)

// TempIDPrefix marks client-generated ids. Server ids are numeric and never collide with it.
const TempIDPrefix = "tmp-"

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

var (
	ErrUnknownTempID = errors.New("unknown temp id")
	ErrNotFailed     = errors.New("message has not failed")
)

// Entry is one line of a room's merged view.
type Entry struct {
	// Key is the server id once assigned, otherwise the temp id.
	Key       string
	ID        int64
	TempID    string
	RoomID    int64
	SenderID  int64
	Content   string
	CreatedAt time.Time
	Status    Status
}

type roomView struct {
	entries []*Entry
	// byTemp indexes local placeholders, including confirmed ones, by temp id.
	byTemp map[string]*Entry
	byID   map[int64]*Entry
}

func newRoomView() *roomView {
	return &roomView{byTemp: make(map[string]*Entry), byID: make(map[int64]*Entry)}
}

// Reconciler owns optimistic messages. It is safe for concurrent use.
type Reconciler struct {
	self int64
	log  zerolog.Logger
	now  func() time.Time

	mu    sync.Mutex
	rooms map[int64]*roomView
	// reserved temp ids whose placeholder is not appended yet, with any echo that beat it.
	reserved map[string]*protocol.Message
	// retired maps a temp id replaced by a retry to the temp id that replaced it.
	retired map[string]string
	// roots maps a retry's temp id to the temp id of the chain's first attempt.
	roots map[string]string
}

func NewReconciler(self int64, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		self:     self,
		log:      log.With().Str("component", "reconciler").Int64("user_id", self).Logger(),
		now:      time.Now,
		rooms:    make(map[int64]*roomView),
		reserved: make(map[string]*protocol.Message),
		retired:  make(map[string]string),
		roots:    make(map[string]string),
	}
}

func (r *Reconciler) room(roomID int64) *roomView {
	v, ok := r.rooms[roomID]
	if !ok {
		v = newRoomView()
		r.rooms[roomID] = v
	}
	return v
}

// NewTempID returns a fresh client-unique temp id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// Reserve allocates a temp id before the placeholder is appended.
func (r *Reconciler) Reserve() string {
	tempID := NewTempID()
	r.mu.Lock()
	r.reserved[tempID] = nil
	r.mu.Unlock()
	return tempID
}

// Append adds a pending placeholder for a reserved temp id. An echo that arrived in the
// meantime is applied immediately.
func (r *Reconciler) Append(roomID int64, tempID, content string) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(roomID, tempID, content)
}

func (r *Reconciler) appendLocked(roomID int64, tempID, content string) Entry {
	v := r.room(roomID)
	e := &Entry{
		Key:       tempID,
		TempID:    tempID,
		RoomID:    roomID,
		SenderID:  r.self,
		Content:   content,
		CreatedAt: r.now(),
		Status:    StatusPending,
	}
	v.entries = append(v.entries, e)
	v.byTemp[tempID] = e

	early, wasReserved := r.reserved[tempID]
	delete(r.reserved, tempID)
	if wasReserved && early != nil {
		r.confirmLocked(v, e, *early)
	}
	return *e
}

// Send creates a pending placeholder and returns the frame to dispatch.
func (r *Reconciler) Send(roomID int64, content string) (*protocol.SendMessage, Entry) {
	tempID := r.Reserve()
	e := r.Append(roomID, tempID, content)
	return &protocol.SendMessage{RoomID: roomID, Content: content, TempID: tempID}, e
}

// Retry replaces a failed placeholder with a new pending one under a new temp id. The frame
// names the chain's first attempt in RetryOf, so the server matches a late success of any
// earlier attempt however many retries followed it.
func (r *Reconciler) Retry(roomID int64, tempID string) (*protocol.SendMessage, Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := r.room(roomID)
	e, ok := v.byTemp[tempID]
	if !ok {
		return nil, Entry{}, ErrUnknownTempID
	}
	if e.Status != StatusFailed {
		return nil, Entry{}, ErrNotFailed
	}
	v.remove(e)
	delete(v.byTemp, tempID)

	root := tempID
	if first, ok := r.roots[tempID]; ok {
		root = first
	}
	next := NewTempID()
	r.retired[tempID] = next
	r.roots[next] = root

	entry := r.appendLocked(roomID, next, e.Content)
	return &protocol.SendMessage{RoomID: roomID, Content: e.Content, TempID: next, RetryOf: root}, entry, nil
}

// Fail marks a pending placeholder failed. No retry happens automatically.
func (r *Reconciler) Fail(roomID int64, tempID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.room(roomID).byTemp[tempID]
	if !ok || e.Status != StatusPending {
		return false
	}
	e.Status = StatusFailed
	return true
}

// ExpirePending fails placeholders that have waited longer than timeout and returns their
// temp ids.
func (r *Reconciler) ExpirePending(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-timeout)
	var expired []string
	for _, v := range r.rooms {
		for _, e := range v.entries {
			if e.Status == StatusPending && e.CreatedAt.Before(cutoff) {
				e.Status = StatusFailed
				expired = append(expired, e.TempID)
			}
		}
	}
	return expired
}

// HandleNewMessage applies a live new_message frame.
func (r *Reconciler) HandleNewMessage(f *protocol.NewMessage) {
	msg := f.Message
	if msg.RoomID == 0 {
		msg.RoomID = f.RoomID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyLocked(msg, f.TempID)
}

// MergeHistory applies a page of history. Own messages carry their temp id, which
// reconciles placeholders whose echo was lost to a disconnect.
func (r *Reconciler) MergeHistory(roomID int64, msgs []protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		if m.RoomID == 0 {
			m.RoomID = roomID
		}
		r.applyLocked(m, m.TempID)
	}
}

func (r *Reconciler) applyLocked(msg protocol.Message, tempID string) {
	v := r.room(msg.RoomID)

	if tempID == "" || msg.SenderID != r.self {
		r.mergeLocked(v, msg)
		return
	}

	if e, ok := v.byTemp[tempID]; ok {
		if e.ID == msg.ID {
			return
		}
		r.confirmLocked(v, e, msg)
		return
	}
	if early, ok := r.reserved[tempID]; ok {
		if early == nil {
			r.reserved[tempID] = &msg
		}
		return
	}
	if _, ok := r.retired[tempID]; ok {
		// An earlier attempt succeeded after all; it stands for the live retry placeholder.
		if e := r.successorLocked(v, tempID); e != nil && e.ID == 0 {
			r.confirmLocked(v, e, msg)
			return
		}
		r.mergeLocked(v, msg)
		return
	}
	r.log.Warn().Str("temp_id", tempID).Int64("room_id", msg.RoomID).Int64("message_id", msg.ID).Msg("reconciliation miss")
	r.mergeLocked(v, msg)
}

// successorLocked follows the retry chain from a retired temp id to the placeholder that
// currently stands for it, if one is still in the room.
func (r *Reconciler) successorLocked(v *roomView, tempID string) *Entry {
	for {
		next, ok := r.retired[tempID]
		if !ok {
			return nil
		}
		if e, ok := v.byTemp[next]; ok {
			return e
		}
		tempID = next
	}
}

// confirmLocked swaps a placeholder's identity for the server's, keeping its position.
func (r *Reconciler) confirmLocked(v *roomView, e *Entry, msg protocol.Message) {
	if other, ok := v.byID[msg.ID]; ok && other != e {
		v.remove(other)
	}
	e.ID = msg.ID
	e.Key = strconv.FormatInt(msg.ID, 10)
	e.Content = msg.Content
	e.CreatedAt = msg.CreatedAt
	e.Status = StatusSent
	v.byID[msg.ID] = e
}

// mergeLocked inserts a confirmed message by id unless it is already present.
func (r *Reconciler) mergeLocked(v *roomView, msg protocol.Message) {
	if _, ok := v.byID[msg.ID]; ok {
		return
	}
	e := &Entry{
		Key:       strconv.FormatInt(msg.ID, 10),
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Status:    StatusSent,
	}
	v.byID[msg.ID] = e

	pos := len(v.entries)
	for i, existing := range v.entries {
		if existing.ID > msg.ID {
			pos = i
			break
		}
	}
	v.entries = append(v.entries, nil)
	copy(v.entries[pos+1:], v.entries[pos:])
	v.entries[pos] = e
}

func (v *roomView) remove(e *Entry) {
	for i, existing := range v.entries {
		if existing == e {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			break
		}
	}
	if e.ID != 0 && v.byID[e.ID] == e {
		delete(v.byID, e.ID)
	}
}

// Messages returns the room's merged view in display order.
func (r *Reconciler) Messages(roomID int64) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Entry, 0, len(v.entries))
	for _, e := range v.entries {
		out = append(out, *e)
	}
	return out
}

// LastKnownID is the greatest server id seen in the room, the cursor for catch-up.
func (r *Reconciler) LastKnownID(roomID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last int64
	if v, ok := r.rooms[roomID]; ok {
		for id := range v.byID {
			if id > last {
				last = id
			}
		}
	}
	return last
}
