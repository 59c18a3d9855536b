package chatclient

import (
	"sort"
	"sync"
	"time"

	"chat-core/pkg/protocol"
)

const DefaultTypingTTL = 6 * time.Second

type typingKey struct {
	roomID int64
	userID int64
}

// TypingTracker holds typing indicators that expire unless renewed.
type TypingTracker struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	expires map[typingKey]time.Time
}

func NewTypingTracker(ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{ttl: ttl, now: time.Now, expires: make(map[typingKey]time.Time)}
}

func (t *TypingTracker) Observe(f *protocol.TypingEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := typingKey{roomID: f.RoomID, userID: f.UserID}
	if !f.IsTyping {
		delete(t.expires, key)
		return
	}
	t.expires[key] = t.now().Add(t.ttl)
}

// Active returns the users currently typing in the room, sorted by id.
func (t *TypingTracker) Active(roomID int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var users []int64
	for key, exp := range t.expires {
		if !now.Before(exp) {
			delete(t.expires, key)
			continue
		}
		if key.roomID == roomID {
			users = append(users, key.userID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Reset drops every indicator, as after a reconnect.
func (t *TypingTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expires = make(map[typingKey]time.Time)
}
