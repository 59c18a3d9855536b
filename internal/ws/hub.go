package ws

import (
	"sync"
)

// Hub is the subscription registry: room -> sessions, session -> rooms, user -> session.
type Hub struct {
	mu           sync.RWMutex
	rooms        map[int64]map[*Session]struct{}
	sessionRooms map[*Session]map[int64]struct{}
	users        map[int64]*Session
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:        make(map[int64]map[*Session]struct{}),
		sessionRooms: make(map[*Session]map[int64]struct{}),
		users:        make(map[int64]*Session),
	}
}

// Register adds a session. A previous session for the same user is unregistered and
// returned; the caller closes it.
func (h *Hub) Register(s *Session) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.users[s.UserID]
	if prev != nil && prev != s {
		h.removeLocked(prev)
	} else {
		prev = nil
	}
	h.users[s.UserID] = s
	h.sessionRooms[s] = make(map[int64]struct{})
	return prev
}

// Unregister removes the session and all of its subscriptions, returning the rooms it was
// subscribed to.
func (h *Hub) Unregister(s *Session) []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Session) []int64 {
	subs, ok := h.sessionRooms[s]
	if !ok {
		return nil
	}
	rooms := make([]int64, 0, len(subs))
	for roomID := range subs {
		rooms = append(rooms, roomID)
		if conns, ok := h.rooms[roomID]; ok {
			delete(conns, s)
			if len(conns) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	delete(h.sessionRooms, s)
	if h.users[s.UserID] == s {
		delete(h.users, s.UserID)
	}
	return rooms
}

// Subscribe is idempotent. It reports false when the session is no longer registered.
func (h *Hub) Subscribe(s *Session, roomID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.sessionRooms[s]
	if !ok {
		return false
	}
	subs[roomID] = struct{}{}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Session]struct{})
	}
	h.rooms[roomID][s] = struct{}{}
	return true
}

// Unsubscribe reports whether the session was subscribed.
func (h *Hub) Unsubscribe(s *Session, roomID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.sessionRooms[s]
	if !ok {
		return false
	}
	if _, ok := subs[roomID]; !ok {
		return false
	}
	delete(subs, roomID)
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, s)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
	return true
}

func (h *Hub) IsSubscribed(s *Session, roomID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][s]
	return ok
}

// Subscribers returns a snapshot of the sessions subscribed to roomID.
func (h *Hub) Subscribers(roomID int64) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.rooms[roomID]
	out := make([]*Session, 0, len(conns))
	for s := range conns {
		out = append(out, s)
	}
	return out
}

func (h *Hub) SessionForUser(userID int64) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID]
}

// CloseAll closes every registered session with reason.
func (h *Hub) CloseAll(reason string) int {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessionRooms))
	for s := range h.sessionRooms {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.Close(reason)
	}
	return len(sessions)
}

type HubStats struct {
	Sessions      int `json:"sessions"`
	Rooms         int `json:"rooms"`
	Subscriptions int `json:"subscriptions"`
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := HubStats{Sessions: len(h.sessionRooms), Rooms: len(h.rooms)}
	for _, conns := range h.rooms {
		stats.Subscriptions += len(conns)
	}
	return stats
}
