package emit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/stream-gateway/internal/domain"
	"github.com/tradeforge/stream-gateway/internal/domain/domaintest"
	"github.com/tradeforge/stream-gateway/internal/emit"
	"github.com/tradeforge/stream-gateway/pkg/protocol"
)

type emitted struct {
	target  string // "user", "room" or "all"
	key     string
	event   string
	payload any
}

type recorder struct {
	events []emitted
}

func (r *recorder) EmitToUser(_ context.Context, userID, event string, payload any) {
	r.events = append(r.events, emitted{target: "user", key: userID, event: event, payload: payload})
}

func (r *recorder) EmitToRoom(_ context.Context, room, event string, payload any) {
	r.events = append(r.events, emitted{target: "room", key: room, event: event, payload: payload})
}

func (r *recorder) EmitToAll(_ context.Context, event string, payload any) {
	r.events = append(r.events, emitted{target: "all", event: event, payload: payload})
}

func fixture() (*emit.Emitter, *recorder, *domaintest.FakeClock) {
	rec := &recorder{}
	clock := domaintest.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return emit.New(rec, clock), rec, clock
}

func TestEmitter_PortfolioUpdated(t *testing.T) {
	e, rec, clock := fixture()

	e.PortfolioUpdated(context.Background(), "user-1", emit.Portfolio{TotalValue: 1000})

	require.Len(t, rec.events, 1)
	got := rec.events[0]
	assert.Equal(t, "user", got.target)
	assert.Equal(t, "user-1", got.key)
	assert.Equal(t, protocol.EventPortfolioUpdated, got.event)
	p := got.payload.(emit.Portfolio)
	assert.Equal(t, domain.NowUTCMillis(clock), p.UpdatedAt, "missing timestamp is stamped")
}

func TestEmitter_TradeExecuted(t *testing.T) {
	e, rec, _ := fixture()

	e.TradeExecuted(context.Background(), "user-1", emit.Trade{
		TradeID: "t-1", Symbol: "AAPL", Side: "buy", Quantity: 10, Price: 190.5,
	})

	require.Len(t, rec.events, 2)
	trade := rec.events[0]
	assert.Equal(t, "room", trade.target)
	assert.Equal(t, domain.TradesRoom("user-1"), trade.key)
	assert.Equal(t, protocol.EventTradeExecuted, trade.event)

	note := rec.events[1]
	assert.Equal(t, "user", note.target)
	assert.Equal(t, protocol.EventNotification, note.event)
	assert.Equal(t, "success", note.payload.(protocol.Notification).Type)
}

func TestEmitter_TradeFailed(t *testing.T) {
	e, rec, _ := fixture()

	e.TradeFailed(context.Background(), "user-1", emit.Trade{
		TradeID: "t-2", Symbol: "TSLA", Side: "sell", Reason: "insufficient shares",
	})

	require.Len(t, rec.events, 2)
	assert.Equal(t, protocol.EventTradeFailed, rec.events[0].event)
	assert.Equal(t, "user-1", rec.events[0].key)
	note := rec.events[1].payload.(protocol.Notification)
	assert.Equal(t, "error", note.Type)
	assert.Contains(t, note.Message, "insufficient shares")
}

func TestEmitter_WatchlistQuote(t *testing.T) {
	e, rec, _ := fixture()

	e.WatchlistQuote(context.Background(), emit.Quote{Symbol: "aapl", Price: 191.2})

	require.Len(t, rec.events, 1)
	assert.Equal(t, "room", rec.events[0].target)
	assert.Equal(t, domain.WatchlistRoom("AAPL"), rec.events[0].key, "room key is normalized")
	assert.Equal(t, protocol.EventWatchlistQuote, rec.events[0].event)
}

func TestEmitter_MarketStatus(t *testing.T) {
	e, rec, _ := fixture()

	e.MarketStatus(context.Background(), "closed")

	require.Len(t, rec.events, 1)
	assert.Equal(t, "all", rec.events[0].target)
	assert.Equal(t, protocol.EventMarketStatus, rec.events[0].event)
}
