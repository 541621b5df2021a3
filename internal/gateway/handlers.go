package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/tradeforge/stream-gateway/internal/domain"
	"github.com/tradeforge/stream-gateway/internal/errmap"
	"github.com/tradeforge/stream-gateway/internal/ratelimit"
	"github.com/tradeforge/stream-gateway/pkg/protocol"
)

func (g *Gateway) registerBuiltins() {
	g.RegisterEventHandler(protocol.EventSubscribePortfolio, g.handleSubscribePortfolio)
	g.RegisterEventHandler(protocol.EventSubscribeTrades, g.handleSubscribeTrades)
	g.RegisterEventHandler(protocol.EventSubscribeWatchlist, g.handleSubscribeWatchlist)
	g.RegisterEventHandler(protocol.EventUnsubscribeWatchlist, g.handleUnsubscribeWatchlist)
	g.RegisterEventHandler(protocol.EventPing, g.handlePing)
	g.RegisterEventHandler(protocol.EventReauth, g.handleReauth)
}

// joinRoom adds the connection to room, charging one budget unit the first
// time the identity enters the room. The identity's own user room is
// implicit and never charged. A budget rejection rolls the join back so no
// unit leaks.
func (g *Gateway) joinRoom(ctx context.Context, c *Conn, room string) error {
	exempt := c.UserID() != "" && room == domain.UserRoom(c.UserID())
	first := g.registry.Join(c, room)
	if !first || exempt || g.budget == nil {
		return nil
	}
	if !g.budget.Acquire(ctx, ratelimit.BudgetKey(identityKey(c))) {
		g.registry.Leave(c, room)
		return domain.ErrSubscriptionLimit
	}
	return nil
}

// leaveRoom removes the connection from room, releasing the budget unit
// when no connection of the identity remains in it.
func (g *Gateway) leaveRoom(ctx context.Context, c *Conn, room string) {
	exempt := c.UserID() != "" && room == domain.UserRoom(c.UserID())
	if g.registry.Leave(c, room) && !exempt && g.budget != nil {
		g.budget.Release(ctx, ratelimit.BudgetKey(identityKey(c)))
	}
}

// handleSubscribePortfolio confirms membership of the caller's own user
// room. The room was already joined at handshake, so the join here is an
// idempotent no-op; the ack is what the client is waiting for.
func (g *Gateway) handleSubscribePortfolio(ctx context.Context, c *Conn, _ json.RawMessage) error {
	if err := g.joinRoom(ctx, c, domain.UserRoom(c.UserID())); err != nil {
		return err
	}
	g.send(c, protocol.EventSubscribedPortfolio, protocol.SubscribeAck{
		Success:   true,
		Channel:   "portfolio",
		Timestamp: domain.NowUTCMillis(g.clock),
	})
	return nil
}

// handleSubscribeTrades joins the caller's trade-event room.
func (g *Gateway) handleSubscribeTrades(ctx context.Context, c *Conn, _ json.RawMessage) error {
	if err := g.joinRoom(ctx, c, domain.TradesRoom(c.UserID())); err != nil {
		return err
	}
	g.send(c, protocol.EventSubscribedTrades, protocol.SubscribeAck{
		Success:   true,
		Channel:   "trades",
		Timestamp: domain.NowUTCMillis(g.clock),
	})
	return nil
}

// handleSubscribeWatchlist joins one quote room per requested symbol, up to
// the identity's remaining subscription budget. Symbols past the budget are
// reported back in the ack's rejected list; partially honored requests
// still acknowledge what was subscribed.
func (g *Gateway) handleSubscribeWatchlist(ctx context.Context, c *Conn, data json.RawMessage) error {
	symbols, err := parseSymbols(data)
	if err != nil {
		return err
	}

	// Symbols past the per-call cap never reach the registry; they are
	// rejected the same way budget exhaustion is.
	capped := min(len(symbols), domain.MaxSymbolsPerRequest)

	var subscribed, rejected []string
	for _, symbol := range symbols[:capped] {
		if err := g.joinRoom(ctx, c, domain.WatchlistRoom(symbol)); err != nil {
			rejected = append(rejected, symbol)
			continue
		}
		subscribed = append(subscribed, symbol)
	}
	rejected = append(rejected, symbols[capped:]...)

	g.send(c, protocol.EventSubscribedWatchlist, protocol.SubscribeAck{
		Success:   len(rejected) == 0,
		Channel:   "watchlist",
		Symbols:   subscribed,
		Rejected:  rejected,
		Timestamp: domain.NowUTCMillis(g.clock),
	})
	if len(rejected) > 0 {
		return domain.ErrSubscriptionLimit
	}
	return nil
}

// handleUnsubscribeWatchlist leaves the quote rooms for the given symbols.
// Unknown symbols are ignored; leaving is always safe.
func (g *Gateway) handleUnsubscribeWatchlist(ctx context.Context, c *Conn, data json.RawMessage) error {
	symbols, err := parseSymbols(data)
	if err != nil {
		return err
	}
	for _, symbol := range symbols {
		g.leaveRoom(ctx, c, domain.WatchlistRoom(symbol))
	}
	g.send(c, protocol.EventUnsubscribedWatchlist, protocol.SubscribeAck{
		Success:   true,
		Channel:   "watchlist",
		Symbols:   symbols,
		Timestamp: domain.NowUTCMillis(g.clock),
	})
	return nil
}

// handlePing answers with the server time, echoing the client timestamp so
// the client can estimate round-trip latency.
func (g *Gateway) handlePing(_ context.Context, c *Conn, data json.RawMessage) error {
	var ping protocol.Ping
	if len(data) > 0 {
		// A malformed ping payload is not worth an error; answer anyway.
		_ = json.Unmarshal(data, &ping)
	}
	g.send(c, protocol.EventPong, protocol.Pong{
		Timestamp:       ping.Timestamp,
		ServerTimestamp: domain.NowUTCMillis(g.clock),
	})
	return nil
}

// handleReauth verifies a replacement token for the connection's current
// subject. Success swaps the tracked expiry and re-arms the proactive
// notice; any failure acknowledges and then force-disconnects, because a
// connection that just presented a bad credential must not linger.
func (g *Gateway) handleReauth(_ context.Context, c *Conn, data json.RawMessage) error {
	var req protocol.ReauthRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			// Legacy clients send the bare token string.
			var token string
			if json.Unmarshal(data, &token) == nil {
				req.Token = token
			}
		}
	}

	identity, _ := c.Identity()
	expiresAt, err := g.reauthenticate(identity, req.Token)
	if err != nil {
		rej := errmap.ToRejection(err)
		g.send(c, protocol.EventReauthFailure, protocol.ReauthResult{
			Success: false,
			Code:    rej.Code,
			Message: rej.Message,
		})
		g.Disconnect(c, errmap.CloseReauthFailed)
		return nil
	}

	c.swapExpiry(expiresAt)
	g.scheduleExpiryNotice(c)
	g.send(c, protocol.EventReauthSuccess, protocol.ReauthResult{
		Success:   true,
		ExpiresAt: expiresAt.UTC().UnixMilli(),
	})
	return nil
}

func (g *Gateway) reauthenticate(identity domain.Identity, token string) (expiresAt time.Time, err error) {
	if token == "" {
		return time.Time{}, domain.ErrMissingToken
	}
	return g.gate.Reauthenticate(identity, token)
}

// parseSymbols decodes and normalizes a watchlist payload: blanks dropped,
// upper-cased. An empty list is a caller error.
func parseSymbols(data json.RawMessage) ([]string, error) {
	var req protocol.SubscribeWatchlist
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, domain.ErrParse
	}
	symbols := make([]string, 0, len(req.Symbols))
	for _, s := range req.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		return nil, domain.ErrInvalidParams
	}
	return symbols, nil
}
