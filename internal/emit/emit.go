// Package emit is the typed producer facade over the gateway's raw emit
// primitives. Upstream services construct domain payloads here instead of
// hand-rolling event names and JSON shapes at every call site.
package emit

import (
	"context"

	"github.com/tradeforge/stream-gateway/internal/domain"
	"github.com/tradeforge/stream-gateway/pkg/protocol"
)

// Broadcaster is the slice of the gateway the emitters need.
type Broadcaster interface {
	EmitToUser(ctx context.Context, userID, event string, payload any)
	EmitToRoom(ctx context.Context, room, event string, payload any)
	EmitToAll(ctx context.Context, event string, payload any)
}

// Emitter publishes typed domain events.
type Emitter struct {
	gw    Broadcaster
	clock domain.Clock
}

func New(gw Broadcaster, clock domain.Clock) *Emitter {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Emitter{gw: gw, clock: clock}
}

// Position is one holding inside a portfolio snapshot.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AveragePrice  float64 `json:"averagePrice"`
	CurrentPrice  float64 `json:"currentPrice"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}

// Portfolio is the full account snapshot pushed on portfolio:updated.
type Portfolio struct {
	TotalValue  float64    `json:"totalValue"`
	CashBalance float64    `json:"cashBalance"`
	Positions   []Position `json:"positions"`
	UpdatedAt   int64      `json:"updatedAt"`
}

// Trade describes one executed or failed order.
type Trade struct {
	TradeID    string  `json:"tradeId"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	Reason     string  `json:"reason,omitempty"`
	ExecutedAt int64   `json:"executedAt"`
}

// Quote is one market data tick for a symbol.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Volume        int64   `json:"volume"`
	Timestamp     int64   `json:"timestamp"`
}

// PortfolioUpdated pushes a fresh portfolio snapshot to every connection
// of the user.
func (e *Emitter) PortfolioUpdated(ctx context.Context, userID string, p Portfolio) {
	if p.UpdatedAt == 0 {
		p.UpdatedAt = domain.NowUTCMillis(e.clock)
	}
	e.gw.EmitToUser(ctx, userID, protocol.EventPortfolioUpdated, p)
}

// TradeExecuted announces a filled order to the user's trade-event room and
// synthesizes a notification for the user.
func (e *Emitter) TradeExecuted(ctx context.Context, userID string, trade Trade) {
	if trade.ExecutedAt == 0 {
		trade.ExecutedAt = domain.NowUTCMillis(e.clock)
	}
	e.gw.EmitToRoom(ctx, domain.TradesRoom(userID), protocol.EventTradeExecuted, trade)
	e.Notify(ctx, userID, "Trade executed",
		trade.Side+" "+trade.Symbol, "success")
}

// TradeFailed reports a rejected or errored order directly to the user.
func (e *Emitter) TradeFailed(ctx context.Context, userID string, trade Trade) {
	if trade.ExecutedAt == 0 {
		trade.ExecutedAt = domain.NowUTCMillis(e.clock)
	}
	e.gw.EmitToUser(ctx, userID, protocol.EventTradeFailed, trade)
	e.Notify(ctx, userID, "Trade failed",
		trade.Side+" "+trade.Symbol+": "+trade.Reason, "error")
}

// WatchlistQuote fans one tick out to everyone watching the symbol.
func (e *Emitter) WatchlistQuote(ctx context.Context, quote Quote) {
	if quote.Timestamp == 0 {
		quote.Timestamp = domain.NowUTCMillis(e.clock)
	}
	e.gw.EmitToRoom(ctx, domain.WatchlistRoom(quote.Symbol), protocol.EventWatchlistQuote, quote)
}

// PositionClosed tells the user one of their positions was fully closed.
func (e *Emitter) PositionClosed(ctx context.Context, userID string, position Position) {
	e.gw.EmitToUser(ctx, userID, protocol.EventPositionClosed, position)
}

// Notify pushes a generic notification to the user. Type is one of
// "info", "success", "warning" or "error".
func (e *Emitter) Notify(ctx context.Context, userID, title, message, typ string) {
	e.gw.EmitToUser(ctx, userID, protocol.EventNotification, protocol.Notification{
		Title:     title,
		Message:   message,
		Type:      typ,
		Timestamp: domain.NowUTCMillis(e.clock),
	})
}

// MarketStatus broadcasts a market session change to every connection.
func (e *Emitter) MarketStatus(ctx context.Context, status string) {
	e.gw.EmitToAll(ctx, protocol.EventMarketStatus, map[string]any{
		"status":    status,
		"timestamp": domain.NowUTCMillis(e.clock),
	})
}
