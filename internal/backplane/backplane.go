// Package backplane is the shared pub/sub layer that lets every gateway
// process deliver to rooms whose members are connected elsewhere. The
// interface is deliberately narrow so the distributed implementation is
// swappable and testable with an in-memory loopback.
package backplane

import (
	"context"
	"encoding/json"
)

// Message is the envelope published for every broadcast. Data is kept as
// raw JSON end to end; the backplane never inspects payloads.
type Message struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler consumes delivered messages. Handlers must not block: they run on
// the backplane's receive loop.
type Handler func(msg Message)

// Backplane fans broadcasts out to every subscribed gateway process,
// at-least-once, best-effort. The publishing process receives its own
// messages back; local delivery rides the same path as remote delivery.
type Backplane interface {
	// Publish sends an event to every instance subscribed to the backplane.
	Publish(ctx context.Context, room, event string, data any) error

	// Subscribe registers the single delivery handler and starts the
	// receive loop. Must be called once, before any Publish.
	Subscribe(ctx context.Context, handler Handler) error

	// Close releases backplane resources and stops the receive loop.
	Close() error
}
