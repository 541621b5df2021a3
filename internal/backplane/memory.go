package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory implements Backplane as an in-process loopback. It is the
// single-instance degradation used when no shared backplane is configured
// or its initialization fails, and the stub gateway tests run against.
// Delivery is synchronous, preserving per-room publish order.
type Memory struct {
	mu      sync.RWMutex
	handler Handler
	closed  bool
}

// NewMemory creates an in-process backplane.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish loops the message straight back to the subscribed handler.
func (m *Memory) Publish(_ context.Context, room, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("backplane: marshal payload: %w", err)
	}

	m.mu.RLock()
	handler, closed := m.handler, m.closed
	m.mu.RUnlock()

	if closed || handler == nil {
		return nil
	}
	handler(Message{Room: room, Event: event, Data: raw})
	return nil
}

// Subscribe registers the delivery handler.
func (m *Memory) Subscribe(_ context.Context, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
	return nil
}

// Close drops the handler; further publishes are no-ops.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.handler = nil
	return nil
}
