package gateway

import (
	"sync"
	"time"

	"github.com/tradeforge/stream-gateway/internal/auth"
	"github.com/tradeforge/stream-gateway/internal/domain"
	"github.com/tradeforge/stream-gateway/internal/errmap"
	"github.com/tradeforge/stream-gateway/pkg/protocol"
)

// Conn is one live client connection. It is created and destroyed
// exclusively by the Gateway; handlers only ever borrow it.
type Conn struct {
	// ID is the ephemeral connection identifier.
	ID string

	remoteAddr string
	createdAt  time.Time

	mu            sync.Mutex
	identity      domain.Identity
	authenticated bool
	sessionID     string
	rooms         map[string]struct{}
	expiryTimer   *time.Timer
	closed        bool
	closeReason   errmap.WebSocketClose

	send chan protocol.Frame
	done chan struct{}
	once sync.Once
}

func newConn(id, remoteAddr string, createdAt time.Time) *Conn {
	return &Conn{
		ID:         id,
		remoteAddr: remoteAddr,
		createdAt:  createdAt,
		rooms:      make(map[string]struct{}),
		send:       make(chan protocol.Frame, domain.OutboundBufferSize),
		done:       make(chan struct{}),
	}
}

// Identity returns the identity attached at handshake. The boolean is false
// for anonymous connections.
func (c *Conn) Identity() (domain.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.authenticated
}

// SessionID returns the session ID for session-variant credentials, "" for
// token-variant or anonymous connections.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// UserID returns the authenticated user ID, "" when anonymous.
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authenticated {
		return ""
	}
	return c.identity.UserID
}

// Rooms returns a snapshot of the connection's room memberships.
func (c *Conn) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// InRoom reports whether the connection is a member of room.
func (c *Conn) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Conn) attach(res auth.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = res.Identity
	c.authenticated = res.Authenticated
	c.sessionID = res.SessionID
}

// swapExpiry replaces the credential expiry after a successful
// reauthentication for the same subject.
func (c *Conn) swapExpiry(expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity.ExpiresAt = expiresAt
}

// setExpiryTimer stores the proactive-expiry timer, stopping any previous
// one so reauthentication cannot leak timers.
func (c *Conn) setExpiryTimer(t *time.Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
	}
	c.expiryTimer = t
}

func (c *Conn) stopExpiryTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}
}

func (c *Conn) addRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) removeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// enqueue offers a frame to the connection's outbound buffer without
// blocking. Returns false when the buffer is full (slow consumer) or the
// connection is closing; the caller decides what that means.
func (c *Conn) enqueue(frame protocol.Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close marks the connection closing with the given close frame. Idempotent
// with first-reason-wins; the transport write pump observes done and tears
// the socket down.
func (c *Conn) close(reason errmap.WebSocketClose) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeReason = reason
		if c.expiryTimer != nil {
			c.expiryTimer.Stop()
			c.expiryTimer = nil
		}
		c.mu.Unlock()
		close(c.done)
	})
}

// CloseReason returns the close frame recorded when the connection was torn
// down. Only meaningful after Done is closed.
func (c *Conn) CloseReason() errmap.WebSocketClose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// Done is closed when the connection is being torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
