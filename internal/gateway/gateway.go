// Package gateway is the heart of the stream gateway: it admits
// connections through the rate limiter and the authentication gate,
// tracks room memberships, dispatches inbound client events, and fans
// domain broadcasts out through the backplane.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tradeforge/stream-gateway/internal/auth"
	"github.com/tradeforge/stream-gateway/internal/backplane"
	"github.com/tradeforge/stream-gateway/internal/domain"
	"github.com/tradeforge/stream-gateway/internal/errmap"
	"github.com/tradeforge/stream-gateway/internal/ratelimit"
	"github.com/tradeforge/stream-gateway/pkg/protocol"
)

var tracer = otel.Tracer("gateway")

// HandlerFunc processes one inbound client event. Returning an error sends
// the mapped error event back on the connection; the connection stays open.
type HandlerFunc func(ctx context.Context, c *Conn, data json.RawMessage) error

// Config wires the gateway's collaborators.
type Config struct {
	Gate   *auth.Gate
	Guards []auth.Guard

	ConnLimiter  *ratelimit.Policy
	EventLimiter *ratelimit.Policy
	Budget       *ratelimit.BudgetPolicy

	Backplane backplane.Backplane

	Logger *slog.Logger
	Clock  domain.Clock

	// ShutdownGrace is how long connected clients get between the shutdown
	// broadcast and the force close.
	ShutdownGrace time.Duration

	// OnAuthFailureThreshold, when set, is invoked each time a source
	// address crosses the repeated-failure warning threshold. Escalation
	// beyond logging is the caller's policy.
	OnAuthFailureThreshold func(addr string)
}

// Gateway owns every live connection of this process.
type Gateway struct {
	gate   *auth.Gate
	guards []auth.Guard

	connLimiter  *ratelimit.Policy
	eventLimiter *ratelimit.Policy
	budget       *ratelimit.BudgetPolicy

	bp       backplane.Backplane
	registry *Registry
	logger   *slog.Logger
	clock    domain.Clock

	shutdownGrace   time.Duration
	onAuthThreshold func(addr string)

	// authFailures is a small windowed counter used only to surface
	// repeated handshake failures per source address.
	authFailures *ratelimit.LocalStore

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	startedAt    time.Time
	shutdownOnce sync.Once
	shuttingDown chan struct{}
}

// New creates a gateway. Call Start before serving connections.
func New(cfg Config) *Gateway {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = domain.ShutdownGracePeriod
	}
	bp := cfg.Backplane
	if bp == nil {
		bp = backplane.NewMemory()
	}
	g := &Gateway{
		gate:            cfg.Gate,
		guards:          cfg.Guards,
		connLimiter:     cfg.ConnLimiter,
		eventLimiter:    cfg.EventLimiter,
		budget:          cfg.Budget,
		bp:              bp,
		registry:        NewRegistry(),
		logger:          logger,
		clock:           clock,
		shutdownGrace:   grace,
		onAuthThreshold: cfg.OnAuthFailureThreshold,
		authFailures:    ratelimit.NewLocalStore(clock),
		handlers:        make(map[string]HandlerFunc),
		startedAt:       clock.Now(),
		shuttingDown:    make(chan struct{}),
	}
	g.registerBuiltins()
	return g
}

// Start subscribes the gateway to the backplane. When the shared backplane
// cannot be reached the gateway degrades to an in-process loopback so local
// emits keep flowing; cross-instance delivery resumes only after a restart.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.bp.Subscribe(ctx, g.deliver); err != nil {
		g.logger.Warn("backplane unavailable, degrading to in-process delivery",
			slog.String("error", err.Error()),
		)
		_ = g.bp.Close()
		g.bp = backplane.NewMemory()
		if err := g.bp.Subscribe(ctx, g.deliver); err != nil {
			return fmt.Errorf("subscribing loopback backplane: %w", err)
		}
	}
	return nil
}

// Handshake admits one new connection: source-address rate limit first,
// then the credential gate, then any configured guards. On success the
// connection is registered, joined to its user room, and greeted with the
// connected and connection.authorized events. Rejections happen before any
// state is created; the caller turns the error into an HTTP rejection
// before upgrading.
func (g *Gateway) Handshake(ctx context.Context, cred auth.Credential, remoteAddr string) (*Conn, error) {
	ctx, span := tracer.Start(ctx, "gateway.Handshake")
	defer span.End()

	addr := sourceAddr(remoteAddr)
	span.SetAttributes(attribute.String("gateway.source_addr", addr))

	if !g.connLimiter.Allow(ctx, ratelimit.ConnKey(addr)) {
		g.logger.Warn("connection attempt rate limited", slog.String("addr", addr))
		return nil, domain.ErrRateLimited
	}

	res, err := g.gate.Validate(ctx, cred)
	if err != nil {
		g.recordAuthFailure(ctx, addr, err)
		return nil, err
	}
	if res.Authenticated {
		for _, guard := range g.guards {
			if err := guard(ctx, res.Identity); err != nil {
				g.recordAuthFailure(ctx, addr, err)
				return nil, err
			}
		}
	}

	select {
	case <-g.shuttingDown:
		return nil, domain.ErrUnavailable
	default:
	}

	now := g.clock.Now()
	c := newConn(uuid.NewString(), addr, now)
	c.attach(res)
	g.registry.Add(c)

	if res.Authenticated {
		// The identity's own room is implicit and exempt from the
		// subscription budget.
		g.registry.Join(c, domain.UserRoom(res.Identity.UserID))
		g.scheduleExpiryNotice(c)
	}

	g.send(c, protocol.EventConnected, protocol.Connected{
		ConnectionID: c.ID,
		Timestamp:    domain.NowUTCMillis(g.clock),
	})
	if res.Authenticated {
		g.send(c, protocol.EventAuthorized, protocol.Authorized{
			UserID:    res.Identity.UserID,
			SessionID: res.SessionID,
		})
	}

	span.SetAttributes(
		attribute.String("gateway.connection_id", c.ID),
		attribute.Bool("gateway.authenticated", res.Authenticated),
	)
	g.logger.Info("connection established",
		slog.String("connection_id", c.ID),
		slog.String("user_id", c.UserID()),
		slog.Bool("authenticated", res.Authenticated),
	)
	return c, nil
}

// Disconnect tears a connection down: deregisters it, releases the budget
// units this identity no longer holds, and signals the transport with the
// given close frame. Safe to call more than once.
func (g *Gateway) Disconnect(c *Conn, reason errmap.WebSocketClose) {
	released := g.registry.Remove(c)
	if len(released) > 0 && g.budget != nil {
		ctx := context.Background()
		key := ratelimit.BudgetKey(identityKey(c))
		// The implicit user room was never charged, so it is never refunded.
		exempt := ""
		if uid := c.UserID(); uid != "" {
			exempt = domain.UserRoom(uid)
		}
		for _, room := range released {
			if room == exempt {
				continue
			}
			g.budget.Release(ctx, key)
		}
	}
	c.close(reason)
	g.logger.Info("connection closed",
		slog.String("connection_id", c.ID),
		slog.String("user_id", c.UserID()),
		slog.Int("close_code", reason.Code),
		slog.String("close_reason", reason.Reason),
	)
}

// RegisterEventHandler binds fn to an inbound event name, replacing any
// previous handler for that name.
func (g *Gateway) RegisterEventHandler(event string, fn HandlerFunc) {
	g.handlersMu.Lock()
	defer g.handlersMu.Unlock()
	g.handlers[event] = fn
}

// Dispatch routes one inbound frame through the uniform guard order:
// authentication, then the per-identity event rate limit, then the handler.
// Handler errors and panics are contained to an error event on the same
// connection; a malformed or unknown frame never kills the connection.
func (g *Gateway) Dispatch(ctx context.Context, c *Conn, frame protocol.Frame) {
	ctx, span := tracer.Start(ctx, "gateway.Dispatch",
		trace.WithAttributes(attribute.String("gateway.event", frame.Event)),
	)
	defer span.End()

	g.handlersMu.RLock()
	fn, ok := g.handlers[frame.Event]
	g.handlersMu.RUnlock()
	if !ok {
		g.sendError(c, frame.Event, domain.ErrInvalidParams)
		return
	}

	identity, authenticated := c.Identity()
	if !authenticated {
		g.sendError(c, frame.Event, domain.ErrUnauthenticated)
		return
	}
	if !g.eventLimiter.Allow(ctx, ratelimit.EventKey(identity.UserID)) {
		g.sendError(c, frame.Event, domain.ErrRateLimited)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("event handler panicked",
				slog.String("event", frame.Event),
				slog.String("connection_id", c.ID),
				slog.Any("panic", r),
			)
			g.sendError(c, frame.Event, fmt.Errorf("handler panic: %v", r))
		}
	}()

	if err := fn(ctx, c, frame.Data); err != nil {
		g.sendError(c, frame.Event, err)
	}
}

// EmitToUser publishes an event to every connection of userID, on any
// instance. Unknown users are a silent no-op by design of the room model.
func (g *Gateway) EmitToUser(ctx context.Context, userID, event string, payload any) {
	g.publish(ctx, domain.UserRoom(userID), event, payload)
}

// EmitToRoom publishes an event to every member of room.
func (g *Gateway) EmitToRoom(ctx context.Context, room, event string, payload any) {
	g.publish(ctx, room, event, payload)
}

// EmitToAll publishes an event to every live connection.
func (g *Gateway) EmitToAll(ctx context.Context, event string, payload any) {
	g.publish(ctx, domain.RoomAll, event, payload)
}

func (g *Gateway) publish(ctx context.Context, room, event string, payload any) {
	if err := g.bp.Publish(ctx, room, event, payload); err != nil {
		// Fire and forget: producers never block on delivery problems.
		g.logger.Error("backplane publish failed",
			slog.String("room", room),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// deliver runs on the backplane receive loop and fans one message out to
// local members. A full outbound buffer marks the consumer too slow to
// keep and drops it rather than stalling everyone behind it.
func (g *Gateway) deliver(msg backplane.Message) {
	frame := protocol.Frame{Event: msg.Event, Data: msg.Data}

	var conns []*Conn
	if msg.Room == domain.RoomAll {
		conns = g.registry.All()
	} else {
		conns = g.registry.InRoom(msg.Room)
	}
	for _, c := range conns {
		if !c.enqueue(frame) {
			g.logger.Warn("dropping slow consumer",
				slog.String("connection_id", c.ID),
				slog.String("user_id", c.UserID()),
			)
			g.Disconnect(c, errmap.CloseSlowConsumer)
		}
	}
}

// send queues a frame directly on one connection, bypassing the backplane.
func (g *Gateway) send(c *Conn, event string, payload any) {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		g.logger.Error("encoding outbound frame",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}
	if !c.enqueue(frame) {
		g.Disconnect(c, errmap.CloseSlowConsumer)
	}
}

func (g *Gateway) sendError(c *Conn, event string, err error) {
	g.send(c, protocol.EventError, errmap.ToErrorEvent(event, err))
}

// scheduleExpiryNotice arms the one-shot token.expiring timer for the
// connection's credential. Credentials without an expiry, or expiring
// sooner than the lead time, get no notice.
func (g *Gateway) scheduleExpiryNotice(c *Conn) {
	identity, ok := c.Identity()
	if !ok || identity.ExpiresAt.IsZero() {
		return
	}
	fireIn := identity.ExpiresAt.Sub(g.clock.Now()) - domain.ExpiryNoticeLead
	if fireIn <= 0 {
		return
	}
	timer := time.AfterFunc(fireIn, func() {
		select {
		case <-c.Done():
			return
		default:
		}
		id, _ := c.Identity()
		g.send(c, protocol.EventTokenExpiring, protocol.TokenExpiring{
			ExpiresAt:     id.ExpiresAt.UTC().UnixMilli(),
			TimeRemaining: int64(id.ExpiresAt.Sub(g.clock.Now()) / time.Millisecond),
		})
	})
	c.setExpiryTimer(timer)
}

// recordAuthFailure counts failed handshakes per source address and raises
// a warning once an address keeps failing inside the window.
func (g *Gateway) recordAuthFailure(ctx context.Context, addr string, err error) {
	g.logger.Info("handshake rejected",
		slog.String("addr", addr),
		slog.String("code", errmap.ToRejection(err).Code),
	)
	within, cerr := g.authFailures.CheckAndIncrement(ctx, addr, domain.FailedAuthWarnThreshold, domain.FailedAuthWarnWindow)
	if cerr != nil || within {
		return
	}
	g.logger.Warn("repeated authentication failures",
		slog.String("addr", addr),
		slog.Int("threshold", domain.FailedAuthWarnThreshold),
	)
	if g.onAuthThreshold != nil {
		g.onAuthThreshold(addr)
	}
}

// Stats is a point-in-time snapshot for the operational endpoint.
type Stats struct {
	Connections   int           `json:"connections"`
	Authenticated int           `json:"authenticatedConnections"`
	Rooms         int           `json:"rooms"`
	Uptime        time.Duration `json:"-"`
	UptimeSeconds int64         `json:"uptimeSeconds"`
}

// Stats reports current connection, authentication and room counts.
func (g *Gateway) Stats() Stats {
	total, authenticated, rooms := g.registry.Counts()
	uptime := g.clock.Now().Sub(g.startedAt)
	return Stats{
		Connections:   total,
		Authenticated: authenticated,
		Rooms:         rooms,
		Uptime:        uptime,
		UptimeSeconds: int64(uptime / time.Second),
	}
}

// Shutdown broadcasts server:shutdown, waits out the grace period so the
// write pumps can flush it, then force-closes every connection and the
// backplane. Subsequent calls are no-ops.
func (g *Gateway) Shutdown(ctx context.Context) {
	g.shutdownOnce.Do(func() {
		close(g.shuttingDown)
		g.logger.Info("gateway shutting down",
			slog.Int("connections", len(g.registry.All())),
		)
		g.EmitToAll(ctx, protocol.EventServerShutdown, protocol.ServerShutdown{
			Message: "server is shutting down",
		})

		select {
		case <-time.After(g.shutdownGrace):
		case <-ctx.Done():
		}

		for _, c := range g.registry.All() {
			g.Disconnect(c, errmap.CloseServerShutdown)
		}
		if err := g.bp.Close(); err != nil {
			g.logger.Error("closing backplane", slog.String("error", err.Error()))
		}
	})
}

// sourceAddr strips the port from host:port remote addresses so rate
// limiting keys on the host alone.
func sourceAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
