package auth

import (
	"context"
	"fmt"

	"github.com/tradeforge/stream-gateway/internal/domain"
)

// Guard is an authorization check chained after the base gate. Guards see a
// validated identity and reject by returning a domain sentinel error.
type Guard func(ctx context.Context, identity domain.Identity) error

// AdminGuard rejects identities without the elevated role.
func AdminGuard() Guard {
	return func(_ context.Context, identity domain.Identity) error {
		if !identity.Admin {
			return fmt.Errorf("admin guard: %w", domain.ErrForbidden)
		}
		return nil
	}
}

// TierLookup resolves the current subscription tier for a user. The lookup
// exists because the tier embedded in a credential can go stale; billing
// changes take effect before the credential is reissued.
type TierLookup interface {
	Tier(ctx context.Context, userID string) (domain.Tier, error)
}

// TierLookupFunc adapts a function to the TierLookup interface.
type TierLookupFunc func(ctx context.Context, userID string) (domain.Tier, error)

// Tier calls the wrapped function.
func (f TierLookupFunc) Tier(ctx context.Context, userID string) (domain.Tier, error) {
	return f(ctx, userID)
}

// TierGuard rejects identities whose current tier is not in the allowed set.
// Tier gating is a monetization boundary, so a lookup failure rejects
// (fail closed) - never allows. A nil lookup falls back to the tier carried
// by the identity itself.
func TierGuard(lookup TierLookup, allowed ...domain.Tier) Guard {
	allowedSet := make(map[domain.Tier]struct{}, len(allowed))
	for _, t := range allowed {
		allowedSet[t] = struct{}{}
	}

	return func(ctx context.Context, identity domain.Identity) error {
		tier := identity.Tier
		if lookup != nil {
			var err error
			tier, err = lookup.Tier(ctx, identity.UserID)
			if err != nil {
				return fmt.Errorf("tier lookup: %w", domain.ErrSubscriptionRequired)
			}
		}
		if _, ok := allowedSet[tier]; !ok {
			return fmt.Errorf("tier %q: %w", tier, domain.ErrSubscriptionRequired)
		}
		return nil
	}
}
