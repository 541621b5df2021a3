package backplane_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/stream-gateway/internal/backplane"
	redisclient "github.com/tradeforge/stream-gateway/internal/redis"
)

func TestMemory(t *testing.T) {
	t.Run("publish loops back to the handler", func(t *testing.T) {
		bp := backplane.NewMemory()
		var got []backplane.Message
		require.NoError(t, bp.Subscribe(context.Background(), func(msg backplane.Message) {
			got = append(got, msg)
		}))

		err := bp.Publish(context.Background(), "user:u1", "trade:executed", map[string]string{"id": "t1"})

		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "user:u1", got[0].Room)
		assert.Equal(t, "trade:executed", got[0].Event)
		assert.JSONEq(t, `{"id":"t1"}`, string(got[0].Data))
	})

	t.Run("publish before subscribe is a no-op", func(t *testing.T) {
		bp := backplane.NewMemory()

		assert.NoError(t, bp.Publish(context.Background(), "r", "e", nil))
	})

	t.Run("publish after close is a no-op", func(t *testing.T) {
		bp := backplane.NewMemory()
		delivered := false
		require.NoError(t, bp.Subscribe(context.Background(), func(backplane.Message) {
			delivered = true
		}))
		require.NoError(t, bp.Close())

		require.NoError(t, bp.Publish(context.Background(), "r", "e", nil))
		assert.False(t, delivered)
	})

	t.Run("preserves publish order", func(t *testing.T) {
		bp := backplane.NewMemory()
		var events []string
		require.NoError(t, bp.Subscribe(context.Background(), func(msg backplane.Message) {
			events = append(events, msg.Event)
		}))

		for _, e := range []string{"a", "b", "c"} {
			require.NoError(t, bp.Publish(context.Background(), "r", e, nil))
		}

		assert.Equal(t, []string{"a", "b", "c"}, events)
	})
}

func TestRedis(t *testing.T) {
	newBackplane := func(t *testing.T) (*backplane.Redis, *miniredis.Miniredis) {
		t.Helper()
		mr := miniredis.RunT(t)
		client := redisclient.NewClient(redisclient.Config{
			Addr:         mr.Addr(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		})
		t.Cleanup(func() {
			require.NoError(t, client.Close())
		})
		return backplane.NewRedis(client, nil), mr
	}

	t.Run("publisher receives its own message", func(t *testing.T) {
		bp, _ := newBackplane(t)
		received := make(chan backplane.Message, 1)
		require.NoError(t, bp.Subscribe(context.Background(), func(msg backplane.Message) {
			received <- msg
		}))
		t.Cleanup(func() {
			require.NoError(t, bp.Close())
		})

		payload := map[string]any{"symbol": "AAPL", "price": 123.45}
		require.NoError(t, bp.Publish(context.Background(), "watchlist:AAPL", "watchlist:quote", payload))

		select {
		case msg := <-received:
			assert.Equal(t, "watchlist:AAPL", msg.Room)
			assert.Equal(t, "watchlist:quote", msg.Event)

			var got map[string]any
			require.NoError(t, json.Unmarshal(msg.Data, &got))
			assert.Equal(t, "AAPL", got["symbol"])
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for backplane delivery")
		}
	})

	t.Run("subscribe fails fast when redis is down", func(t *testing.T) {
		bp, mr := newBackplane(t)
		mr.Close()

		err := bp.Subscribe(context.Background(), func(backplane.Message) {})

		assert.Error(t, err)
	})

	t.Run("close is safe without subscribe", func(t *testing.T) {
		bp, _ := newBackplane(t)

		assert.NoError(t, bp.Close())
	})
}
