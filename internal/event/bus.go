// Package event provides the in-process event bus shared by printwatch plugins.
package event

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/pkg/plugin"
)

// Compile-time interface guard.
var _ plugin.EventBus = (*Bus)(nil)

type subscriber struct {
	id      uint64
	handler plugin.EventHandler
}

// Bus is a topic-based publish/subscribe hub. Handlers run in subscription
// order; a panicking handler is logged and does not stop the others.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID uint64
	topics map[string][]subscriber
	all    []subscriber
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		topics: make(map[string][]subscriber),
	}
}

// Publish delivers the event synchronously to topic subscribers, then to
// wildcard subscribers.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	for _, s := range b.handlersFor(event.Topic) {
		b.invoke(ctx, s, event)
	}
	return nil
}

// PublishAsync delivers the event on a new goroutine.
func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) {
	handlers := b.handlersFor(event.Topic)
	if len(handlers) == 0 {
		return
	}
	go func() {
		for _, s := range handlers {
			b.invoke(ctx, s, event)
		}
	}()
}

// Subscribe registers handler for topic and returns a func that removes it.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscriber{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.topics[topic] = remove(b.topics[topic], id)
		if len(b.topics[topic]) == 0 {
			delete(b.topics, topic)
		}
	}
}

// SubscribeAll registers handler for every topic.
func (b *Bus) SubscribeAll(handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscriber{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

// handlersFor snapshots the handlers for a topic so they can run unlocked.
func (b *Bus) handlersFor(topic string) []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]subscriber, 0, len(b.topics[topic])+len(b.all))
	out = append(out, b.topics[topic]...)
	out = append(out, b.all...)
	return out
}

func (b *Bus) invoke(ctx context.Context, s subscriber, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.Uint64("subscriber", s.id),
				zap.Any("panic", r),
			)
		}
	}()
	s.handler(ctx, event)
}

func remove(subs []subscriber, id uint64) []subscriber {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
