package domain

import "time"

// Normative limits for the gateway. These are compiled defaults that can be
// overridden via configuration.
const (
	// Handshake rate limiting: new connection attempts per source address.
	ConnectionRateLimit       = 10
	ConnectionRateLimitWindow = 60 * time.Second

	// Inbound event rate limiting: events per authenticated identity.
	EventRateLimit       = 100
	EventRateLimitWindow = 60 * time.Second

	// Subscription budget: total concurrent room subscriptions per identity.
	// A budget, not a window - it is decremented when rooms are left.
	MaxSubscriptionsPerIdentity = 50

	// Watchlist subscribe/unsubscribe accepts at most this many symbols
	// per call. Each symbol consumes one subscription-budget unit.
	MaxSymbolsPerRequest = 50

	// Proactive token-expiry notice fires this long before the credential
	// expires. Scheduling is skipped when the expiry is already closer.
	ExpiryNoticeLead = 5 * time.Minute

	// Failed handshakes per source address that trigger a warning log.
	// Escalation to an automatic block is a policy hook, not enforced here.
	FailedAuthWarnThreshold = 5
	FailedAuthWarnWindow    = 10 * time.Minute

	// Buffered outbound events per connection before the connection is
	// considered a slow consumer and dropped.
	OutboundBufferSize = 256

	// Heartbeat configuration for the WebSocket transport.
	HeartbeatInterval = 30 * time.Second
	HeartbeatTimeout  = 60 * time.Second

	// Graceful shutdown: notice is broadcast, then connections get this
	// long to drain before being force-closed.
	ShutdownGracePeriod = 1 * time.Second

	// Process shutdown sequencing: load balancers get ShutdownDrainDelay to
	// stop routing to this instance, then each layer is given its own
	// timeout. The whole sequence stays under GracefulShutdownTimeout.
	ShutdownDrainDelay      = 2 * time.Second
	ShutdownHTTPTimeout     = 10 * time.Second
	ShutdownOTELTimeout     = 5 * time.Second
	GracefulShutdownTimeout = 30 * time.Second

	// Timeout contracts for infrastructure calls.
	RedisTimeout    = 2 * time.Second
	DynamoDBTimeout = 5 * time.Second
)

// Tier represents a subscription tier attached to an identity.
type Tier string

const (
	TierFree    Tier = "free"
	TierBasic   Tier = "basic"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// IsValidTier checks if a tier value is recognized.
func IsValidTier(t Tier) bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierPremium:
		return true
	}
	return false
}
