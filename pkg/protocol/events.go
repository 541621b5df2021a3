// Package protocol defines the WebSocket event protocol between clients and
// the gateway. Every message on the wire is a Frame: an event name plus an
// opaque JSON payload.
package protocol

import "encoding/json"

// Client-to-server event names.
const (
	EventSubscribePortfolio   = "subscribe:portfolio"
	EventSubscribeTrades      = "subscribe:trades"
	EventSubscribeWatchlist   = "subscribe:watchlist"
	EventUnsubscribeWatchlist = "unsubscribe:watchlist"
	EventPing                 = "ping"
	EventReauth               = "connection.reauth"
)

// Server-to-client lifecycle event names.
const (
	EventConnected      = "connected"
	EventAuthorized     = "connection.authorized"
	EventTokenExpiring  = "token.expiring"
	EventReauthSuccess  = "connection.reauth.success"
	EventReauthFailure  = "connection.reauth.failure"
	EventPong           = "pong"
	EventError          = "error"
	EventServerShutdown = "server:shutdown"

	EventSubscribedPortfolio   = "subscribed:portfolio"
	EventSubscribedTrades      = "subscribed:trades"
	EventSubscribedWatchlist   = "subscribed:watchlist"
	EventUnsubscribedWatchlist = "unsubscribed:watchlist"
)

// Server-to-client domain broadcast event names.
const (
	EventPortfolioUpdated = "portfolio:updated"
	EventTradeExecuted    = "trade:executed"
	EventTradeFailed      = "trade:failed"
	EventWatchlistQuote   = "watchlist:quote"
	EventPositionClosed   = "position:closed"
	EventNotification     = "notification"
	EventMarketStatus     = "market:status"
)

// Rejection and error codes. Codes are stable API surface: clients match on
// them, human messages may change.
const (
	CodeNoSessionID          = "NO_SESSION_ID"
	CodeInvalidSession       = "INVALID_SESSION"
	CodeSessionExpired       = "SESSION_EXPIRED"
	CodeUserMismatch         = "USER_MISMATCH"
	CodeDatabaseError        = "DATABASE_ERROR"
	CodeParseError           = "PARSE_ERROR"
	CodeNoUserData           = "NO_USER_DATA"
	CodeMissingToken         = "MISSING_TOKEN"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeTokenNotBefore       = "TOKEN_NOT_BEFORE"
	CodeAuthFailed           = "AUTH_FAILED"
	CodeForbidden            = "FORBIDDEN"
	CodeSubscriptionRequired = "SUBSCRIPTION_REQUIRED"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeRateLimit            = "RATE_LIMIT"
	CodeSubscriptionLimit    = "SUBSCRIPTION_LIMIT"
	CodeInvalidParams        = "INVALID_PARAMS"
	CodeServerError          = "SERVER_ERROR"
)

// Frame is the envelope for every WebSocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame creates a Frame with the given event name and payload.
func NewFrame(event string, payload any) (Frame, error) {
	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
	}
	return Frame{Event: event, Data: data}, nil
}

// ParseData unmarshals the frame payload into the given struct.
func (f Frame) ParseData(v any) error {
	if f.Data == nil {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}
