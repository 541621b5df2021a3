package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	redisclient "github.com/tradeforge/stream-gateway/internal/redis"
)

// channel is the single Redis Pub/Sub channel shared by all gateway
// instances. Room routing happens in the envelope, not in channel names,
// so membership changes never require (un)subscribing on Redis.
const channel = "gateway:broadcast"

// Redis implements Backplane on Redis Pub/Sub.
type Redis struct {
	rdb    *goredis.Client
	logger *slog.Logger

	mu     sync.Mutex
	sub    *goredis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedis creates a Redis-backed backplane using the given client.
func NewRedis(client *redisclient.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: client.RDB, logger: logger}
}

// Publish sends the event envelope to every subscribed instance, including
// this one.
func (r *Redis) Publish(ctx context.Context, room, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("backplane: marshal payload: %w", err)
	}
	msg, err := json.Marshal(Message{Room: room, Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("backplane: marshal envelope: %w", err)
	}
	if err := r.rdb.Publish(ctx, channel, msg).Err(); err != nil {
		return fmt.Errorf("backplane: publish: %w", err)
	}
	return nil
}

// Subscribe starts the receive loop. The initial subscription is confirmed
// before returning, so a startup failure is reported to the caller rather
// than discovered on first delivery.
func (r *Redis) Subscribe(ctx context.Context, handler Handler) error {
	sub := r.rdb.Subscribe(ctx, channel)

	// Receive forces the SUBSCRIBE round trip.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("backplane: subscribe: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.sub = sub
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ch := sub.Channel()
		for {
			select {
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					r.logger.Warn("backplane: dropping malformed message",
						slog.String("error", err.Error()),
					)
					continue
				}
				handler(msg)
			case <-loopCtx.Done():
				return
			}
		}
	}()

	return nil
}

// Close unsubscribes and stops the receive loop.
func (r *Redis) Close() error {
	r.mu.Lock()
	sub, cancel, done := r.sub, r.cancel, r.done
	r.sub, r.cancel, r.done = nil, nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if sub != nil {
		err = sub.Close()
	}
	if done != nil {
		<-done
	}
	return err
}
