package monitor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/pkg/models"
)

// EventKind identifies the type of a monitor event.
type EventKind int

const (
	EventStatusChanged EventKind = iota + 1
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStatusChanged:
		return "status_changed"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Severity grades an ErrorEvent.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityFor derives the severity of a failure from the consecutive
// failure count and the retry ceiling.
func SeverityFor(failures, maxRetries int) Severity {
	switch {
	case failures > maxRetries:
		return SeverityHigh
	case failures >= 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Event is implemented by every value the Publisher broadcasts.
type Event interface {
	Kind() EventKind
	Device() string
	OccurredAt() time.Time
}

// StatusChangedEvent is published after a successful fetch updates the store.
type StatusChangedEvent struct {
	DeviceID  string
	Timestamp time.Time
	Status    models.DeviceStatus
}

func (e StatusChangedEvent) Kind() EventKind       { return EventStatusChanged }
func (e StatusChangedEvent) Device() string        { return e.DeviceID }
func (e StatusChangedEvent) OccurredAt() time.Time { return e.Timestamp }

// ErrorEvent is published when fetching a device's status fails and the
// failure is surfaced to subscribers.
type ErrorEvent struct {
	DeviceID     string
	Timestamp    time.Time
	Err          error
	Severity     Severity
	FailureCount int
}

func (e ErrorEvent) Kind() EventKind       { return EventError }
func (e ErrorEvent) Device() string        { return e.DeviceID }
func (e ErrorEvent) OccurredAt() time.Time { return e.Timestamp }

// Handler receives published events.
type Handler func(Event)

// Subscription identifies one registered handler.
type Subscription struct {
	Kind EventKind
	id   uint64
}

type registered struct {
	id      uint64
	handler Handler
}

// Publisher fans events out to subscribers of each kind. Handlers run
// synchronously on the publishing goroutine, in subscription order.
type Publisher struct {
	logger *zap.Logger

	mu       sync.Mutex
	nextID   uint64
	handlers map[EventKind][]registered
}

// NewPublisher returns a Publisher with no subscribers.
func NewPublisher(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		logger:   logger,
		handlers: make(map[EventKind][]registered),
	}
}

// Subscribe registers handler for events of the given kind.
func (p *Publisher) Subscribe(kind EventKind, handler Handler) Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.handlers[kind] = append(p.handlers[kind], registered{id: p.nextID, handler: handler})
	return Subscription{Kind: kind, id: p.nextID}
}

// Unsubscribe removes exactly the handler identified by sub. It reports
// whether the handler was still registered.
func (p *Publisher) Unsubscribe(sub Subscription) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.handlers[sub.Kind]
	for i, r := range list {
		if r.id == sub.id {
			p.handlers[sub.Kind] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers e to every handler subscribed to its kind. A panicking
// handler is logged and does not prevent delivery to the rest.
func (p *Publisher) Publish(e Event) {
	p.mu.Lock()
	list := p.handlers[e.Kind()]
	snapshot := make([]registered, len(list))
	copy(snapshot, list)
	p.mu.Unlock()

	for _, r := range snapshot {
		p.invoke(r.handler, e)
	}
}

// Len returns the number of handlers registered for kind.
func (p *Publisher) Len(kind EventKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers[kind])
}

func (p *Publisher) invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("event handler panicked",
				zap.String("kind", e.Kind().String()),
				zap.String("device_id", e.Device()),
				zap.Any("panic", r),
			)
		}
	}()
	h(e)
}
