package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/stream-gateway/internal/domain"
	"github.com/tradeforge/stream-gateway/internal/errmap"
	"github.com/tradeforge/stream-gateway/internal/ratelimit"
	"github.com/tradeforge/stream-gateway/pkg/protocol"
)

func budgetCount(t *testing.T, f *fixture, userID string) int {
	t.Helper()
	n, err := f.budget.Count(context.Background(), ratelimit.BudgetKey(userID))
	require.NoError(t, err)
	return n
}

func TestHandleSubscribePortfolio(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "user-1")
	drainWelcome(t, c)

	dispatch(f, c, protocol.EventSubscribePortfolio, struct{}{})

	frame := recvFrame(t, c)
	assert.Equal(t, protocol.EventSubscribedPortfolio, frame.Event)
	var ack protocol.SubscribeAck
	require.NoError(t, frame.ParseData(&ack))
	assert.True(t, ack.Success)
	assert.Equal(t, "portfolio", ack.Channel)

	// The user room is implicit; confirming it costs no budget.
	assert.Equal(t, 0, budgetCount(t, f, "user-1"))

	f.gw.EmitToUser(context.Background(), "user-1", protocol.EventPortfolioUpdated, nil)
	assert.Equal(t, protocol.EventPortfolioUpdated, recvFrame(t, c).Event)
}

func TestHandleSubscribeTrades(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "user-1")
	drainWelcome(t, c)

	dispatch(f, c, protocol.EventSubscribeTrades, struct{}{})

	frame := recvFrame(t, c)
	assert.Equal(t, protocol.EventSubscribedTrades, frame.Event)
	assert.True(t, c.InRoom(domain.TradesRoom("user-1")))
	assert.Equal(t, 1, budgetCount(t, f, "user-1"))

	f.gw.EmitToRoom(context.Background(), domain.TradesRoom("user-1"), protocol.EventTradeExecuted, nil)
	assert.Equal(t, protocol.EventTradeExecuted, recvFrame(t, c).Event)
}

func TestHandleSubscribeWatchlist(t *testing.T) {
	t.Run("joins one room per symbol, normalized", func(t *testing.T) {
		f := newFixture(t)
		c := f.connect(t, "user-1")
		drainWelcome(t, c)

		dispatch(f, c, protocol.EventSubscribeWatchlist,
			protocol.SubscribeWatchlist{Symbols: []string{"aapl", " msft ", "TSLA"}})

		frame := recvFrame(t, c)
		assert.Equal(t, protocol.EventSubscribedWatchlist, frame.Event)
		var ack protocol.SubscribeAck
		require.NoError(t, frame.ParseData(&ack))
		assert.True(t, ack.Success)
		assert.ElementsMatch(t, []string{"AAPL", "MSFT", "TSLA"}, ack.Symbols)
		assert.Empty(t, ack.Rejected)

		assert.True(t, c.InRoom(domain.WatchlistRoom("AAPL")))
		assert.Equal(t, 3, budgetCount(t, f, "user-1"))

		f.gw.EmitToRoom(context.Background(), domain.WatchlistRoom("aapl"), protocol.EventWatchlistQuote, nil)
		assert.Equal(t, protocol.EventWatchlistQuote, recvFrame(t, c).Event)
	})

	t.Run("rejects an empty symbol list", func(t *testing.T) {
		f := newFixture(t)
		c := f.connect(t, "user-1")
		drainWelcome(t, c)

		dispatch(f, c, protocol.EventSubscribeWatchlist, protocol.SubscribeWatchlist{})

		frame := recvFrame(t, c)
		assert.Equal(t, protocol.EventError, frame.Event)
		var e protocol.Error
		require.NoError(t, frame.ParseData(&e))
		assert.Equal(t, protocol.CodeInvalidParams, e.Code)
	})

	t.Run("honors a request past the per-call cap up to the cap", func(t *testing.T) {
		f := newFixture(t)
		c := f.connect(t, "user-1")
		drainWelcome(t, c)

		symbols := make([]string, domain.MaxSymbolsPerRequest+1)
		for i := range symbols {
			symbols[i] = "S" + string(rune('A'+i%26)) + string(rune('A'+i/26))
		}
		dispatch(f, c, protocol.EventSubscribeWatchlist, protocol.SubscribeWatchlist{Symbols: symbols})

		frame := recvFrame(t, c)
		assert.Equal(t, protocol.EventSubscribedWatchlist, frame.Event)
		var ack protocol.SubscribeAck
		require.NoError(t, frame.ParseData(&ack))
		assert.False(t, ack.Success)
		assert.Len(t, ack.Symbols, domain.MaxSymbolsPerRequest)
		assert.Equal(t, []string{symbols[domain.MaxSymbolsPerRequest]}, ack.Rejected)

		limitErr := recvFrame(t, c)
		assert.Equal(t, protocol.EventError, limitErr.Event)
		var e protocol.Error
		require.NoError(t, limitErr.ParseData(&e))
		assert.Equal(t, protocol.CodeSubscriptionLimit, e.Code)

		assert.Equal(t, domain.MaxSymbolsPerRequest, budgetCount(t, f, "user-1"))
	})

	t.Run("honors the budget partially and reports the rest", func(t *testing.T) {
		f := newFixture(t, func(cfg *Config, fx *fixture) {
			cfg.Budget = ratelimit.NewBudgetPolicy(fx.budget, 2, quietLogger())
		})
		c := f.connect(t, "user-1")
		drainWelcome(t, c)

		dispatch(f, c, protocol.EventSubscribeWatchlist,
			protocol.SubscribeWatchlist{Symbols: []string{"AAPL", "MSFT", "TSLA", "NVDA"}})

		frame := recvFrame(t, c)
		assert.Equal(t, protocol.EventSubscribedWatchlist, frame.Event)
		var ack protocol.SubscribeAck
		require.NoError(t, frame.ParseData(&ack))
		assert.False(t, ack.Success)
		assert.Len(t, ack.Symbols, 2)
		assert.Len(t, ack.Rejected, 2)

		limitErr := recvFrame(t, c)
		assert.Equal(t, protocol.EventError, limitErr.Event)
		var e protocol.Error
		require.NoError(t, limitErr.ParseData(&e))
		assert.Equal(t, protocol.CodeSubscriptionLimit, e.Code)

		// Rejected joins must not leak budget units.
		assert.Equal(t, 2, budgetCount(t, f, "user-1"))
		assert.False(t, c.InRoom(domain.WatchlistRoom("TSLA")))
	})

	t.Run("budget is shared across connections of one identity", func(t *testing.T) {
		f := newFixture(t, func(cfg *Config, fx *fixture) {
			cfg.Budget = ratelimit.NewBudgetPolicy(fx.budget, 1, quietLogger())
		})
		a := f.connect(t, "user-1")
		b := f.connect(t, "user-1")
		drainWelcome(t, a)
		drainWelcome(t, b)

		// Same room on both connections costs a single unit.
		dispatch(f, a, protocol.EventSubscribeWatchlist, protocol.SubscribeWatchlist{Symbols: []string{"AAPL"}})
		recvFrame(t, a)
		dispatch(f, b, protocol.EventSubscribeWatchlist, protocol.SubscribeWatchlist{Symbols: []string{"AAPL"}})
		frame := recvFrame(t, b)
		var ack protocol.SubscribeAck
		require.NoError(t, frame.ParseData(&ack))
		assert.True(t, ack.Success)
		assert.Equal(t, 1, budgetCount(t, f, "user-1"))

		// A different room busts the shared cap.
		dispatch(f, b, protocol.EventSubscribeWatchlist, protocol.SubscribeWatchlist{Symbols: []string{"MSFT"}})
		frame = recvFrame(t, b)
		require.NoError(t, frame.ParseData(&ack))
		assert.False(t, ack.Success)
	})

	t.Run("disconnect releases only fully vacated rooms", func(t *testing.T) {
		f := newFixture(t)
		a := f.connect(t, "user-1")
		b := f.connect(t, "user-1")
		drainWelcome(t, a)
		drainWelcome(t, b)

		dispatch(f, a, protocol.EventSubscribeWatchlist, protocol.SubscribeWatchlist{Symbols: []string{"AAPL", "MSFT"}})
		recvFrame(t, a)
		dispatch(f, b, protocol.EventSubscribeWatchlist, protocol.SubscribeWatchlist{Symbols: []string{"AAPL"}})
		recvFrame(t, b)
		require.Equal(t, 2, budgetCount(t, f, "user-1"))

		f.gw.Disconnect(a, errmap.WebSocketClose{Code: errmap.CloseNormalClosure})
		assert.Equal(t, 1, budgetCount(t, f, "user-1"), "AAPL survives on the sibling connection")

		f.gw.Disconnect(b, errmap.WebSocketClose{Code: errmap.CloseNormalClosure})
		assert.Equal(t, 0, budgetCount(t, f, "user-1"))
	})

	t.Run("disconnect never refunds the uncharged user room", func(t *testing.T) {
		// Two gateway instances sharing one budget store, as with Redis.
		shared := ratelimit.NewLocalBudget()
		withShared := func(cfg *Config, fx *fixture) {
			fx.budget = shared
			cfg.Budget = ratelimit.NewBudgetPolicy(shared, domain.MaxSubscriptionsPerIdentity, quietLogger())
		}
		fa := newFixture(t, withShared)
		fb := newFixture(t, withShared)

		onB := fb.connect(t, "user-1")
		drainWelcome(t, onB)
		dispatch(fb, onB, protocol.EventSubscribeWatchlist, protocol.SubscribeWatchlist{Symbols: []string{"AAPL"}})
		recvFrame(t, onB)
		require.Equal(t, 1, budgetCount(t, fb, "user-1"))

		// The connection on the other instance only ever held its user
		// room; tearing it down must not touch the shared counter.
		onA := fa.connect(t, "user-1")
		drainWelcome(t, onA)
		fa.gw.Disconnect(onA, errmap.WebSocketClose{Code: errmap.CloseNormalClosure})
		assert.Equal(t, 1, budgetCount(t, fb, "user-1"))

		fb.gw.Disconnect(onB, errmap.WebSocketClose{Code: errmap.CloseNormalClosure})
		assert.Equal(t, 0, budgetCount(t, fb, "user-1"))
	})
}

func TestHandleUnsubscribeWatchlist(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "user-1")
	drainWelcome(t, c)

	dispatch(f, c, protocol.EventSubscribeWatchlist, protocol.SubscribeWatchlist{Symbols: []string{"AAPL", "MSFT"}})
	recvFrame(t, c)
	require.Equal(t, 2, budgetCount(t, f, "user-1"))

	dispatch(f, c, protocol.EventUnsubscribeWatchlist, protocol.SubscribeWatchlist{Symbols: []string{"aapl"}})

	frame := recvFrame(t, c)
	assert.Equal(t, protocol.EventUnsubscribedWatchlist, frame.Event)
	assert.False(t, c.InRoom(domain.WatchlistRoom("AAPL")))
	assert.True(t, c.InRoom(domain.WatchlistRoom("MSFT")))
	assert.Equal(t, 1, budgetCount(t, f, "user-1"))

	// Unsubscribing a symbol never subscribed is harmless.
	dispatch(f, c, protocol.EventUnsubscribeWatchlist, protocol.SubscribeWatchlist{Symbols: []string{"GOOG"}})
	frame = recvFrame(t, c)
	assert.Equal(t, protocol.EventUnsubscribedWatchlist, frame.Event)
	assert.Equal(t, 1, budgetCount(t, f, "user-1"))
}

func TestHandlePing(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "user-1")
	drainWelcome(t, c)

	dispatch(f, c, protocol.EventPing, protocol.Ping{Timestamp: 12345})

	frame := recvFrame(t, c)
	assert.Equal(t, protocol.EventPong, frame.Event)
	var pong protocol.Pong
	require.NoError(t, frame.ParseData(&pong))
	assert.Equal(t, int64(12345), pong.Timestamp)
	assert.Equal(t, domain.NowUTCMillis(f.clock), pong.ServerTimestamp)
}
