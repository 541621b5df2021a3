package errmap

import (
	"github.com/tradeforge/stream-gateway/internal/domain"
)

// WebSocket close codes per RFC 6455.
// Application-specific codes use the 4000-4999 range.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
	CloseTryAgainLater   = 1013

	CloseInvalidMessage = 4000
	CloseUnauthorized   = 4001
	CloseForbidden      = 4003
	CloseRateLimited    = 4029
)

// WebSocketClose represents a close code and reason for WebSocket termination.
type WebSocketClose struct {
	Code   int
	Reason string
}

// ToWebSocketClose converts an error to a WebSocket close code and reason.
func ToWebSocketClose(err error) WebSocketClose {
	switch {
	case err == nil:
		return WebSocketClose{Code: CloseNormalClosure, Reason: "normal_closure"}
	case domain.IsPermissionError(err):
		return WebSocketClose{Code: CloseForbidden, Reason: "forbidden"}
	case domain.IsAuthError(err):
		return WebSocketClose{Code: CloseUnauthorized, Reason: ToRejection(err).Code}
	case domain.IsRetryable(err):
		return WebSocketClose{Code: CloseRateLimited, Reason: "rate_limited"}
	case domain.IsClientError(err):
		return WebSocketClose{Code: CloseInvalidMessage, Reason: "invalid_message"}
	default:
		return WebSocketClose{Code: CloseInternalError, Reason: "internal_error"}
	}
}

// Close reasons for cases not driven by a domain error.
var (
	CloseServerShutdown = WebSocketClose{Code: CloseGoingAway, Reason: "server_shutdown"}
	CloseSlowConsumer   = WebSocketClose{Code: CloseRateLimited, Reason: "slow_consumer"}
	CloseReauthFailed   = WebSocketClose{Code: CloseUnauthorized, Reason: "reauth_failed"}
)
