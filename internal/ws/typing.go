package ws

import (
	"sync"
	"time"
)

type typingKey struct {
	userID int64
	roomID int64
}

// TypingOverlay throttles typing signals. It holds no durable state and is cleared per user
// on disconnect.
type TypingOverlay struct {
	throttle time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[typingKey]time.Time
}

func NewTypingOverlay(throttle time.Duration) *TypingOverlay {
	return &TypingOverlay{
		throttle: throttle,
		now:      time.Now,
		last:     make(map[typingKey]time.Time),
	}
}

// Allow reports whether a typing signal should be fanned out. Stop signals always pass
// and reset the throttle.
func (t *TypingOverlay) Allow(userID, roomID int64, active bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{userID: userID, roomID: roomID}
	if !active {
		delete(t.last, key)
		return true
	}
	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.throttle {
		return false
	}
	t.last[key] = now
	return true
}

// Forget drops all typing state for the user.
func (t *TypingOverlay) Forget(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.last {
		if key.userID == userID {
			delete(t.last, key)
		}
	}
}
