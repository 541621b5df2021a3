// Package errmap translates domain errors into wire-visible rejections.
// Clients only ever see a stable {code, message} pair - no stack traces or
// internal identifiers cross this boundary.
package errmap

import (
	"errors"

	"github.com/tradeforge/stream-gateway/internal/domain"
	"github.com/tradeforge/stream-gateway/pkg/protocol"
)

// Rejection is the structured error surfaced to clients, both as the body
// of a refused handshake and as the payload of an `error` event.
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r Rejection) Error() string {
	return r.Message
}

// codeMapping defines a domain error to wire code mapping.
type codeMapping struct {
	err     error
	code    string
	message string
}

// codeMappings maps domain errors to stable wire codes.
// Order matters: first match wins (via errors.Is).
var codeMappings = []codeMapping{
	// Session credential errors
	{domain.ErrNoSessionID, protocol.CodeNoSessionID, "no session ID provided"},
	{domain.ErrInvalidSession, protocol.CodeInvalidSession, "session not found"},
	{domain.ErrSessionExpired, protocol.CodeSessionExpired, "session has expired"},
	{domain.ErrUserMismatch, protocol.CodeUserMismatch, "session user mismatch"},
	{domain.ErrNoUserData, protocol.CodeNoUserData, "session has no user data"},

	// Token credential errors
	{domain.ErrMissingToken, protocol.CodeMissingToken, "authentication token required"},
	{domain.ErrTokenExpired, protocol.CodeTokenExpired, "token has expired"},
	{domain.ErrTokenNotBefore, protocol.CodeTokenNotBefore, "token not yet valid"},
	{domain.ErrInvalidToken, protocol.CodeInvalidToken, "invalid authentication token"},
	{domain.ErrAuthFailed, protocol.CodeAuthFailed, "authentication failed"},

	// Authorization errors
	{domain.ErrUnauthenticated, protocol.CodeAuthFailed, "authentication required"},
	{domain.ErrSubscriptionRequired, protocol.CodeSubscriptionRequired, "subscription upgrade required"},
	{domain.ErrForbidden, protocol.CodeForbidden, "insufficient permissions"},

	// Operational errors
	{domain.ErrRateLimited, protocol.CodeRateLimitExceeded, "rate limit exceeded"},
	{domain.ErrSubscriptionLimit, protocol.CodeSubscriptionLimit, "subscription limit reached"},
	{domain.ErrInvalidParams, protocol.CodeInvalidParams, "invalid parameters"},
	{domain.ErrParse, protocol.CodeParseError, "malformed payload"},

	// Infrastructure errors
	{domain.ErrDatabase, protocol.CodeDatabaseError, "storage error"},
}

// ToRejection converts a domain error to its wire rejection. Unrecognized
// errors collapse to SERVER_ERROR so internals never leak.
func ToRejection(err error) Rejection {
	for _, m := range codeMappings {
		if errors.Is(err, m.err) {
			return Rejection{Code: m.code, Message: m.message}
		}
	}
	return Rejection{Code: protocol.CodeServerError, Message: "internal server error"}
}

// ToErrorEvent converts a per-event failure into the `error` event payload,
// tagging the inbound event that triggered it.
func ToErrorEvent(event string, err error) protocol.Error {
	r := ToRejection(err)
	return protocol.Error{Event: event, Code: r.Code, Message: r.Message}
}
