package monitor

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		failures, maxRetries int
		want                 Severity
	}{
		{1, 3, SeverityLow},
		{2, 3, SeverityMedium},
		{3, 3, SeverityMedium},
		{4, 3, SeverityHigh},
		{1, 0, SeverityHigh},
		{0, 3, SeverityLow},
	}
	for _, tt := range tests {
		if got := SeverityFor(tt.failures, tt.maxRetries); got != tt.want {
			t.Errorf("SeverityFor(%d, %d) = %q, want %q", tt.failures, tt.maxRetries, got, tt.want)
		}
	}
}

func TestEventKind_String(t *testing.T) {
	if got := EventStatusChanged.String(); got != "status_changed" {
		t.Errorf("EventStatusChanged.String() = %q", got)
	}
	if got := EventError.String(); got != "error" {
		t.Errorf("EventError.String() = %q", got)
	}
	if got := EventKind(99).String(); got != "EventKind(99)" {
		t.Errorf("EventKind(99).String() = %q", got)
	}
}

func TestPublisher_SubscriptionOrder(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	var order []int
	for i := 1; i <= 3; i++ {
		p.Subscribe(EventStatusChanged, func(Event) { order = append(order, i) })
	}

	p.Publish(StatusChangedEvent{DeviceID: "p1", Timestamp: time.Now()})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestPublisher_KindIsolation(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	var statusCalls, errorCalls int
	p.Subscribe(EventStatusChanged, func(Event) { statusCalls++ })
	p.Subscribe(EventError, func(Event) { errorCalls++ })

	p.Publish(ErrorEvent{DeviceID: "p1", Err: errors.New("boom"), Severity: SeverityLow})

	if statusCalls != 0 {
		t.Errorf("status handler called %d times, want 0", statusCalls)
	}
	if errorCalls != 1 {
		t.Errorf("error handler called %d times, want 1", errorCalls)
	}
}

func TestPublisher_UnsubscribeRemovesExactlyOne(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	var a, b int
	subA := p.Subscribe(EventStatusChanged, func(Event) { a++ })
	p.Subscribe(EventStatusChanged, func(Event) { b++ })

	if !p.Unsubscribe(subA) {
		t.Fatal("Unsubscribe(subA) = false, want true")
	}
	if p.Unsubscribe(subA) {
		t.Error("second Unsubscribe(subA) = true, want false")
	}

	p.Publish(StatusChangedEvent{DeviceID: "p1"})
	if a != 0 || b != 1 {
		t.Errorf("calls a=%d b=%d, want a=0 b=1", a, b)
	}
	if n := p.Len(EventStatusChanged); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestPublisher_PanicIsolated(t *testing.T) {
	p := NewPublisher(zap.NewNop())
	var after bool
	p.Subscribe(EventError, func(Event) { panic("handler bug") })
	p.Subscribe(EventError, func(Event) { after = true })

	p.Publish(ErrorEvent{DeviceID: "p1", Err: errors.New("x")})

	if !after {
		t.Error("handler after panicking handler was not called")
	}
}

func TestPublisher_NoReplay(t *testing.T) {
	p := NewPublisher(nil)
	p.Publish(StatusChangedEvent{DeviceID: "early"})

	var got int
	p.Subscribe(EventStatusChanged, func(Event) { got++ })
	if got != 0 {
		t.Errorf("late subscriber received %d events, want 0", got)
	}
}

func TestEvent_Accessors(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var e Event = ErrorEvent{DeviceID: "p9", Timestamp: ts}
	if e.Kind() != EventError || e.Device() != "p9" || !e.OccurredAt().Equal(ts) {
		t.Errorf("ErrorEvent accessors = (%v, %q, %v)", e.Kind(), e.Device(), e.OccurredAt())
	}
	e = StatusChangedEvent{DeviceID: "p8", Timestamp: ts}
	if e.Kind() != EventStatusChanged || e.Device() != "p8" || !e.OccurredAt().Equal(ts) {
		t.Errorf("StatusChangedEvent accessors = (%v, %q, %v)", e.Kind(), e.Device(), e.OccurredAt())
	}
}
