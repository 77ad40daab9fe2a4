package plugin

import (
	"context"
	"time"
)

// Event is a message carried by the application event bus.
type Event struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// EventHandler receives events from the bus.
type EventHandler func(ctx context.Context, event Event)

// EventBus is the application-wide publish/subscribe hub shared by plugins.
type EventBus interface {
	// Publish delivers the event synchronously to all matching handlers.
	Publish(ctx context.Context, event Event) error

	// PublishAsync delivers the event on a separate goroutine.
	PublishAsync(ctx context.Context, event Event)

	// Subscribe registers a handler for one topic and returns its unsubscribe func.
	Subscribe(topic string, handler EventHandler) func()

	// SubscribeAll registers a handler for every topic.
	SubscribeAll(handler EventHandler) func()
}

// Subscription is a declarative bus subscription returned by EventSubscriber.
type Subscription struct {
	Topic   string
	Handler EventHandler
}
