package protocol

// Connected is sent immediately after a successful handshake.
type Connected struct {
	ConnectionID string `json:"connectionId"`
	Timestamp    int64  `json:"timestamp"`
}

// Authorized confirms the identity attached to the connection.
type Authorized struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
}

// TokenExpiring is the proactive notice sent shortly before the
// connection's credential expires.
type TokenExpiring struct {
	ExpiresAt     int64 `json:"expiresAt"`
	TimeRemaining int64 `json:"timeRemaining"`
}

// ReauthRequest carries a replacement token for mid-session reauthentication.
type ReauthRequest struct {
	Token string `json:"token"`
}

// ReauthResult acknowledges a reauthentication attempt.
type ReauthResult struct {
	Success   bool   `json:"success"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// SubscribeWatchlist asks to join quote rooms for up to MaxSymbolsPerRequest
// symbols. The same payload shape is used for unsubscribe.
type SubscribeWatchlist struct {
	Symbols []string `json:"symbols"`
}

// SubscribeAck confirms a subscribe or unsubscribe request.
type SubscribeAck struct {
	Success   bool     `json:"success"`
	Channel   string   `json:"channel,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	Rejected  []string `json:"rejected,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Ping is a client liveness probe; the client timestamp is echoed back.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Pong answers a Ping.
type Pong struct {
	Timestamp       int64 `json:"timestamp,omitempty"`
	ServerTimestamp int64 `json:"serverTimestamp"`
}

// Error reports a per-event failure. The connection stays alive except
// after a failed reauthentication.
type Error struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerShutdown is broadcast before the process force-closes connections.
type ServerShutdown struct {
	Message string `json:"message"`
}

// Notification is the generic user-facing notification envelope synthesized
// by emitters alongside domain payloads.
type Notification struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}
