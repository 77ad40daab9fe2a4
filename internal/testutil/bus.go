package testutil

import (
	"context"
	"sync"

	"github.com/HerbHall/printwatch/pkg/plugin"
)

// Compile-time interface check.
var _ plugin.EventBus = (*MockBus)(nil)

// MockBus records every published event and delivers it synchronously to
// subscribers, including events sent with PublishAsync.
type MockBus struct {
	mu       sync.Mutex
	events   []plugin.Event
	handlers map[string][]plugin.EventHandler
	all      []plugin.EventHandler
}

// NewMockBus returns a new MockBus.
func NewMockBus() *MockBus {
	return &MockBus{handlers: make(map[string][]plugin.EventHandler)}
}

// Publish records and delivers an event.
func (b *MockBus) Publish(ctx context.Context, event plugin.Event) error {
	b.mu.Lock()
	b.events = append(b.events, event)
	hs := append([]plugin.EventHandler(nil), b.handlers[event.Topic]...)
	hs = append(hs, b.all...)
	b.mu.Unlock()

	for _, h := range hs {
		h(ctx, event)
	}
	return nil
}

// PublishAsync behaves like Publish so tests stay deterministic.
func (b *MockBus) PublishAsync(ctx context.Context, event plugin.Event) {
	_ = b.Publish(ctx, event)
}

// Subscribe registers a handler. The returned func is a no-op.
func (b *MockBus) Subscribe(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return func() {}
}

// SubscribeAll registers a wildcard handler. The returned func is a no-op.
func (b *MockBus) SubscribeAll(handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
	return func() {}
}

// Events returns a copy of all recorded events.
func (b *MockBus) Events() []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]plugin.Event, len(b.events))
	copy(out, b.events)
	return out
}

// EventsFor returns the recorded events with the given topic.
func (b *MockBus) EventsFor(topic string) []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []plugin.Event
	for _, e := range b.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears all recorded events.
func (b *MockBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
