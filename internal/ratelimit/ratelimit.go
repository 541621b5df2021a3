// Package ratelimit implements the gateway's counting limits: sliding-window
// rate counters and the no-window subscription budget. Two interchangeable
// backing strategies exist for each - a shared Redis store for multi-instance
// deployments and a local in-process fallback.
//
// Rate and budget caps here are soft availability caps, not security
// boundaries: on shared-store failure the policies fail open (allow, log).
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store atomically increments the counter for key and reports whether the
// post-increment count is within limit for the current window. The increment
// always happens before the comparison, so a rejected call still consumes
// one unit.
type Store interface {
	CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Key builders for the configured policies.

// ConnKey is the per-source-address connection-attempt counter key.
func ConnKey(addr string) string {
	return fmt.Sprintf("rl:conn:%s", addr)
}

// EventKey is the per-identity inbound-event counter key.
func EventKey(userID string) string {
	return fmt.Sprintf("rl:events:%s", userID)
}

// BudgetKey is the per-identity subscription-budget counter key.
func BudgetKey(userID string) string {
	return fmt.Sprintf("rl:subs:%s", userID)
}

// Policy binds a Store to one configured limit and applies the fail-open
// rule: a store error is logged and the operation allowed, favoring
// availability over strict enforcement of a soft cap.
type Policy struct {
	name   string
	store  Store
	limit  int
	window time.Duration
	logger *slog.Logger
}

// NewPolicy creates a named limiting policy.
func NewPolicy(name string, store Store, limit int, window time.Duration, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{name: name, store: store, limit: limit, window: window, logger: logger}
}

// Allow reports whether one more operation for key is within the policy's
// limit, consuming one unit either way.
func (p *Policy) Allow(ctx context.Context, key string) bool {
	allowed, err := p.store.CheckAndIncrement(ctx, key, p.limit, p.window)
	if err != nil {
		// Fail open: the counter store being down must not take the
		// gateway down with it.
		p.logger.Warn("rate limit store unavailable, allowing",
			slog.String("policy", p.name),
			slog.String("error", err.Error()),
		)
		return true
	}
	return allowed
}

// Limit returns the policy's configured maximum.
func (p *Policy) Limit() int {
	return p.limit
}
