package ws

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FrameLimiter bounds how many frames a session may send per window.
type FrameLimiter interface {
	Allow(ctx context.Context, sessionID string) (bool, error)
	Forget(sessionID string)
}

type frameWindow struct {
	start time.Time
	count int
}

// MemoryFrameLimiter is a fixed-window limiter local to this instance.
type MemoryFrameLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*frameWindow
}

func NewMemoryFrameLimiter(limit int, window time.Duration) *MemoryFrameLimiter {
	return &MemoryFrameLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*frameWindow),
	}
}

func (l *MemoryFrameLimiter) Allow(_ context.Context, sessionID string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[sessionID]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[sessionID] = &frameWindow{start: now, count: 1}
		return true, nil
	}
	w.count++
	return w.count <= l.limit, nil
}

func (l *MemoryFrameLimiter) Forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, sessionID)
}

// RedisFrameLimiter counts frames with INCR. The window's expiry is set in the same
// MULTI, so a counter can never outlive its window.
type RedisFrameLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisFrameLimiter(client *redis.Client, limit int, window time.Duration) *RedisFrameLimiter {
	return &RedisFrameLimiter{client: client, limit: limit, window: window}
}

func (l *RedisFrameLimiter) Allow(ctx context.Context, sessionID string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	key := "chat:ratelimit:" + sessionID
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return true, err
	}
	return incr.Val() <= int64(l.limit), nil
}

// Forget is a no-op; keys expire on their own.
func (l *RedisFrameLimiter) Forget(string) {}
