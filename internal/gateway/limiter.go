package gateway

import (
	"context"
	"sync"
	"time"
)

// Limit is a fixed-window request cap. Max <= 0 disables the cap.
type Limit struct {
	Max    int
	Window time.Duration
}

// State is the observable view of one provider window.
type State struct {
	Count   int
	ResetAt time.Time
}

// Limiter counts requests per key in fixed windows. Implementations must be
// safe for concurrent use since every session shares them.
type Limiter interface {
	// Acquire records a request and reports true, or reports false without
	// recording when the window is already at its cap. It never blocks
	// waiting for capacity.
	Acquire(ctx context.Context, key string, limit Limit) (bool, error)
	State(ctx context.Context, key string, limit Limit) (State, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in process memory behind a mutex.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window), now: time.Now}
}

// NewMemoryLimiterWithClock is NewMemoryLimiter with an injected clock.
func NewMemoryLimiterWithClock(now func() time.Time) *MemoryLimiter {
	l := NewMemoryLimiter()
	l.now = now
	return l
}

func (l *MemoryLimiter) Acquire(_ context.Context, key string, limit Limit) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(key, limit)
	if limit.Max > 0 && w.count >= limit.Max {
		return false, nil
	}
	w.count++
	return true, nil
}

func (l *MemoryLimiter) State(_ context.Context, key string, limit Limit) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(key, limit)
	return State{Count: w.count, ResetAt: w.resetAt}, nil
}

// current returns the live window for key, starting a new one when the
// previous window boundary has passed. Callers hold l.mu.
func (l *MemoryLimiter) current(key string, limit Limit) *window {
	now := l.now()
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(windowOrDefault(limit.Window))
	}
	return w
}

func windowOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Minute
	}
	return d
}
