package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/tradeforge/stream-gateway/internal/domain"
)

// LocalStore implements Store with an in-process map. It is the fallback
// strategy when no shared store is configured: counters are then per-process,
// so with N instances behind a load balancer the effective limit is N times
// the configured one. Acceptable for a soft cap.
type LocalStore struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	clock   domain.Clock
}

type localEntry struct {
	count   int
	resetAt time.Time
}

// NewLocalStore creates an in-process counter store.
func NewLocalStore(clock domain.Clock) *LocalStore {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &LocalStore{
		entries: make(map[string]*localEntry),
		clock:   clock,
	}
}

// CheckAndIncrement increments the counter for key and checks it against
// limit. A window that has elapsed resets the count to 1, never 0 - the
// call that observes the reset is itself the first unit of the new window.
func (l *LocalStore) CheckAndIncrement(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || !now.Before(e.resetAt) {
		l.entries[key] = &localEntry{count: 1, resetAt: now.Add(window)}
		return limit >= 1, nil
	}

	e.count++
	return e.count <= limit, nil
}

// Sweep removes entries whose window has elapsed. Called periodically so
// keys for departed clients do not accumulate.
func (l *LocalStore) Sweep() {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, key)
		}
	}
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (l *LocalStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// LocalBudget implements Budget with an in-process map. Counts aggregate a
// user's connections on this instance only.
type LocalBudget struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewLocalBudget creates an in-process budget store.
func NewLocalBudget() *LocalBudget {
	return &LocalBudget{counts: make(map[string]int)}
}

// Acquire consumes one budget unit for key if the cap allows.
func (l *LocalBudget) Acquire(_ context.Context, key string, max int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[key] >= max {
		return false, nil
	}
	l.counts[key]++
	return true, nil
}

// Release returns one budget unit for key, clamping at zero.
func (l *LocalBudget) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[key] > 0 {
		l.counts[key]--
		if l.counts[key] == 0 {
			delete(l.counts, key)
		}
	}
	return nil
}

// Count reports the units currently consumed for key.
func (l *LocalBudget) Count(_ context.Context, key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[key], nil
}
