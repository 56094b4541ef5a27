// Package rate provides an in-process fixed-window rate limiter. It backs
// single-instance deployments and tests; multi-instance fleets use the
// Redis-backed sliding-window limiter instead.
package rate

import (
	"context"
	"sync"
	"time"

	"github.com/calebwray/swapflow/internal/domain"
)

type windowState struct {
	start time.Time
	count int
}

// MemoryLimiter is a fixed-window counter per key. Counts reset when the
// window rolls over; the limiter never errors.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*windowState
	now     func() time.Time
}

// NewMemoryLimiter creates an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*windowState),
		now:     time.Now,
	}
}

// Allow counts a request against key's current window and reports whether it
// fit under limit.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st, ok := l.windows[key]
	if !ok || now.Sub(st.start) >= window {
		st = &windowState{start: now}
		l.windows[key] = st
	}

	if st.count >= limit {
		return false, nil
	}
	st.count++
	return true, nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*MemoryLimiter)(nil)
