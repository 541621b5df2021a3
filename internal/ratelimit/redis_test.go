package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/stream-gateway/internal/ratelimit"
	redisclient "github.com/tradeforge/stream-gateway/internal/redis"
)

func newTestRedis(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
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

	return client, mr
}

func TestRedisStore_CheckAndIncrement(t *testing.T) {
	t.Run("allows exactly up to the limit", func(t *testing.T) {
		client, _ := newTestRedis(t)
		store := ratelimit.NewRedisStore(client.RDB)
		ctx := context.Background()
		key := ratelimit.EventKey("u1")
		limit := 5

		for i := 0; i < limit; i++ {
			allowed, err := store.CheckAndIncrement(ctx, key, limit, time.Minute)
			require.NoError(t, err)
			assert.True(t, allowed, "request %d should be allowed", i+1)
		}

		allowed, err := store.CheckAndIncrement(ctx, key, limit, time.Minute)
		require.NoError(t, err)
		assert.False(t, allowed, "request beyond limit should be rejected")
	})

	t.Run("rejected call still consumes a unit", func(t *testing.T) {
		client, mr := newTestRedis(t)
		store := ratelimit.NewRedisStore(client.RDB)
		ctx := context.Background()
		key := ratelimit.ConnKey("10.0.0.1")

		for i := 0; i < 4; i++ {
			_, err := store.CheckAndIncrement(ctx, key, 2, time.Minute)
			require.NoError(t, err)
		}

		got, err := mr.Get(key)
		require.NoError(t, err)
		assert.Equal(t, "4", got)
	})

	t.Run("sets TTL only on the first increment", func(t *testing.T) {
		client, mr := newTestRedis(t)
		store := ratelimit.NewRedisStore(client.RDB)
		ctx := context.Background()
		key := ratelimit.ConnKey("10.0.0.2")

		_, err := store.CheckAndIncrement(ctx, key, 10, 60*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 60*time.Second, mr.TTL(key))

		mr.FastForward(20 * time.Second)

		_, err = store.CheckAndIncrement(ctx, key, 10, 60*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 40*time.Second, mr.TTL(key), "window must not be extended by later increments")
	})

	t.Run("window elapse resets the counter to 1", func(t *testing.T) {
		client, mr := newTestRedis(t)
		store := ratelimit.NewRedisStore(client.RDB)
		ctx := context.Background()
		key := ratelimit.EventKey("u2")
		limit := 2

		for i := 0; i < limit+1; i++ {
			_, err := store.CheckAndIncrement(ctx, key, limit, time.Minute)
			require.NoError(t, err)
		}

		mr.FastForward(61 * time.Second)

		allowed, err := store.CheckAndIncrement(ctx, key, limit, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)

		got, err := mr.Get(key)
		require.NoError(t, err)
		assert.Equal(t, "1", got)
	})

	t.Run("returns error when redis is down", func(t *testing.T) {
		client, mr := newTestRedis(t)
		store := ratelimit.NewRedisStore(client.RDB)
		mr.Close()

		_, err := store.CheckAndIncrement(context.Background(), "rl:x", 1, time.Minute)

		assert.Error(t, err)
	})
}

func TestRedisBudget(t *testing.T) {
	t.Run("acquire up to cap then reject without consuming", func(t *testing.T) {
		client, mr := newTestRedis(t)
		budget := ratelimit.NewRedisBudget(client.RDB)
		ctx := context.Background()
		key := ratelimit.BudgetKey("u1")

		for i := 0; i < 3; i++ {
			ok, err := budget.Acquire(ctx, key, 3)
			require.NoError(t, err)
			assert.True(t, ok)
		}

		ok, err := budget.Acquire(ctx, key, 3)
		require.NoError(t, err)
		assert.False(t, ok)

		// Rejected acquire must not leak a phantom unit.
		got, err := mr.Get(key)
		require.NoError(t, err)
		assert.Equal(t, "3", got)
	})

	t.Run("release frees a unit", func(t *testing.T) {
		client, _ := newTestRedis(t)
		budget := ratelimit.NewRedisBudget(client.RDB)
		ctx := context.Background()
		key := ratelimit.BudgetKey("u2")

		for i := 0; i < 2; i++ {
			_, err := budget.Acquire(ctx, key, 2)
			require.NoError(t, err)
		}
		require.NoError(t, budget.Release(ctx, key))

		ok, err := budget.Acquire(ctx, key, 2)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("release clamps at zero", func(t *testing.T) {
		client, _ := newTestRedis(t)
		budget := ratelimit.NewRedisBudget(client.RDB)
		ctx := context.Background()
		key := ratelimit.BudgetKey("u3")

		require.NoError(t, budget.Release(ctx, key))

		count, err := budget.Count(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 0, count, "count must never go negative")
	})

	t.Run("count reports consumed units", func(t *testing.T) {
		client, _ := newTestRedis(t)
		budget := ratelimit.NewRedisBudget(client.RDB)
		ctx := context.Background()
		key := ratelimit.BudgetKey("u4")

		count, err := budget.Count(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		_, err = budget.Acquire(ctx, key, 10)
		require.NoError(t, err)

		count, err = budget.Count(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
