// Package ratelimit provides fixed-window counters shared by the action executor
// and a token-bucket limiter for per-tenant ingress.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts hits per key inside fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// pruneInterval is how often Allow sweeps expired windows.
const pruneInterval = time.Minute

// Memory is an in-process fixed-window Limiter.
type Memory struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	windows  map[string]*window
	prunedAt time.Time
}

// NewMemory creates a Memory limiter reading time from clock.
func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{clock: clock, windows: map[string]*window{}, prunedAt: clock.Now()}
}

// Allow counts a hit on key. A window resets once now reaches its reset time.
func (m *Memory) Allow(_ context.Context, key string, limit int, size time.Duration) (Decision, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.prunedAt) >= pruneInterval {
		m.prune(now)
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(size)}
		m.windows[key] = w
	}

	if w.count >= limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: w.resetAt}, nil
	}

	w.count++

	return Decision{Allowed: true, Remaining: limit - w.count, ResetAt: w.resetAt}, nil
}

// Len returns the number of windows currently kept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.windows)
}

// prune drops expired windows. The caller holds m.mu.
func (m *Memory) prune(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
		}
	}

	m.prunedAt = now
}
