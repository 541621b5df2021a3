// Package domain contains pure business logic and types.
// No external dependencies allowed - this is the innermost ring of Clean Architecture.
package domain

import "errors"

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// Handshake / session credential errors
	ErrNoSessionID    = errors.New("no session ID supplied")
	ErrInvalidSession = errors.New("session not found")
	ErrSessionExpired = errors.New("session has expired")
	ErrUserMismatch   = errors.New("session does not belong to this user")
	ErrNoUserData     = errors.New("session carries no user data")

	// Handshake / token credential errors
	ErrMissingToken   = errors.New("no token supplied")
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenNotBefore = errors.New("token is not yet valid")
	ErrInvalidToken   = errors.New("invalid token")
	ErrAuthFailed     = errors.New("authentication failed")

	// Authorization errors
	ErrForbidden            = errors.New("permission denied")
	ErrSubscriptionRequired = errors.New("subscription tier does not permit this")
	ErrUnauthenticated      = errors.New("authentication required")

	// Operational errors
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrSubscriptionLimit = errors.New("subscription budget exhausted")
	ErrInvalidParams     = errors.New("invalid event parameters")
	ErrParse             = errors.New("malformed payload")
	ErrSlowConsumer      = errors.New("client not consuming events fast enough")

	// Infrastructure errors
	ErrDatabase    = errors.New("storage operation failed")
	ErrUnavailable = errors.New("service temporarily unavailable")

	// Resource errors
	ErrNotFound = errors.New("resource not found")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
)

// authErrors enumerates errors that terminate a connection attempt.
var authErrors = []error{
	ErrNoSessionID,
	ErrInvalidSession,
	ErrSessionExpired,
	ErrUserMismatch,
	ErrNoUserData,
	ErrMissingToken,
	ErrTokenExpired,
	ErrTokenNotBefore,
	ErrInvalidToken,
	ErrAuthFailed,
	ErrForbidden,
	ErrSubscriptionRequired,
	ErrUnauthenticated,
}

// IsAuthError returns true if the error represents a credential or
// authorization failure. These are terminal for the connection attempt.
func IsAuthError(err error) bool {
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound returns true if the error represents a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermissionError returns true if the error represents an authorization
// failure for an otherwise valid identity.
func IsPermissionError(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrSubscriptionRequired)
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrSubscriptionLimit)
}

// IsClientError returns true if the error represents a client-side issue
// that will not succeed on retry without client-side changes.
func IsClientError(err error) bool {
	return IsAuthError(err) ||
		errors.Is(err, ErrInvalidParams) ||
		errors.Is(err, ErrParse) ||
		errors.Is(err, ErrNotFound)
}
