package ratelimit

import (
	"context"
	"log/slog"
)

// Budget is the no-window subscription counter: units are consumed on room
// join and returned on leave. Implementations must keep the count atomic
// per key and never negative.
type Budget interface {
	Acquire(ctx context.Context, key string, max int) (bool, error)
	Release(ctx context.Context, key string) error
	Count(ctx context.Context, key string) (int, error)
}

// BudgetPolicy binds a Budget to the configured cap and applies the
// fail-open rule for store errors.
type BudgetPolicy struct {
	budget Budget
	max    int
	logger *slog.Logger
}

// NewBudgetPolicy creates a budget policy with the given cap.
func NewBudgetPolicy(budget Budget, max int, logger *slog.Logger) *BudgetPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &BudgetPolicy{budget: budget, max: max, logger: logger}
}

// Acquire consumes a unit for key. A store failure is logged and allowed.
func (p *BudgetPolicy) Acquire(ctx context.Context, key string) bool {
	ok, err := p.budget.Acquire(ctx, key, p.max)
	if err != nil {
		p.logger.Warn("budget store unavailable, allowing",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return true
	}
	return ok
}

// Release returns a unit for key. A store failure is logged; the unit is
// lost until the counter key expires or is repaired.
func (p *BudgetPolicy) Release(ctx context.Context, key string) {
	if err := p.budget.Release(ctx, key); err != nil {
		p.logger.Warn("budget release failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Max returns the configured cap.
func (p *BudgetPolicy) Max() int {
	return p.max
}
