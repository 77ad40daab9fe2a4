package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/fleet"
	"github.com/HerbHall/printwatch/internal/testutil"
	"github.com/HerbHall/printwatch/pkg/models"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

var base = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	m := New()
	err := m.Init(context.Background(), plugin.Dependencies{
		Logger: zap.NewNop(),
		Store:  testutil.NewStore(t),
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m
}

func statusEvent(id string, at time.Time, opts ...func(*models.DeviceStatus)) plugin.Event {
	return plugin.Event{
		Topic: fleet.TopicStatusChanged,
		Payload: &fleet.StatusEvent{
			DeviceID:  id,
			Timestamp: at,
			Status:    testutil.NewStatus(id, opts...),
		},
	}
}

func errorEvent(id string, at time.Time, severity string, count int) plugin.Event {
	return plugin.Event{
		Topic: fleet.TopicDeviceError,
		Payload: &fleet.ErrorEvent{
			DeviceID:     id,
			Timestamp:    at,
			Error:        "fetch p1: snmp timeout",
			Severity:     severity,
			FailureCount: count,
		},
	}
}

func TestInit_RequiresStore(t *testing.T) {
	m := New()
	if err := m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}); err == nil {
		t.Error("Init without store succeeded")
	}
}

func TestStatusHistory_NewestFirst(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()

	m.handleStatusChanged(ctx, statusEvent("p1", base))
	m.handleStatusChanged(ctx, statusEvent("p1", base.Add(time.Minute), testutil.WithError("Paper jam")))
	m.handleStatusChanged(ctx, statusEvent("p2", base))

	got, err := m.store.Recent(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].State != models.StateError || got[0].ErrorMessage != "Paper jam" {
		t.Errorf("newest = %+v, want error state", got[0])
	}
	if !got[1].RecordedAt.Equal(base) {
		t.Errorf("oldest RecordedAt = %v, want %v", got[1].RecordedAt, base)
	}
	if len(got[1].Supplies) != 2 || got[1].Supplies[0].Name != "Black Toner" {
		t.Errorf("supplies = %+v", got[1].Supplies)
	}

	limited, err := m.store.Recent(ctx, "p1", 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited len = %d, want 1", len(limited))
	}
}

func TestErrorHistory(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()

	m.handleDeviceError(ctx, errorEvent("p1", base, "low", 1))
	m.handleDeviceError(ctx, errorEvent("p1", base.Add(time.Second), "high", 4))

	got, err := m.store.Errors(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("Errors: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Severity != "high" || got[0].FailureCount != 4 {
		t.Errorf("newest = %+v", got[0])
	}
}

func TestHandlers_IgnoreWrongPayload(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	m.handleStatusChanged(ctx, plugin.Event{Payload: "bad"})
	m.handleDeviceError(ctx, plugin.Event{Payload: 42})

	if h := m.Health(ctx); h.Status != "healthy" {
		t.Errorf("Health = %+v, want healthy", h)
	}
}

func TestPrune(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	m.cfg.Retention = 24 * time.Hour
	m.now = func() time.Time { return base.Add(48 * time.Hour) }

	m.handleStatusChanged(ctx, statusEvent("p1", base))
	m.handleStatusChanged(ctx, statusEvent("p1", base.Add(47*time.Hour)))
	m.handleDeviceError(ctx, errorEvent("p1", base, "low", 1))

	m.prune(ctx)

	statuses, _ := m.store.Recent(ctx, "p1", 10)
	errs, _ := m.store.Errors(ctx, "p1", 10)
	if len(statuses) != 1 || len(errs) != 0 {
		t.Errorf("after prune: statuses=%d errors=%d, want 1 and 0", len(statuses), len(errs))
	}
	if h := m.Health(ctx); h.Details["last_prune"] == "" {
		t.Error("last_prune not reported")
	}
}

func TestHTTPHandlers(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	for i := range 5 {
		m.handleStatusChanged(ctx, statusEvent("p1", base.Add(time.Duration(i)*time.Minute)))
	}
	m.handleDeviceError(ctx, errorEvent("p1", base, "medium", 2))

	mux := http.NewServeMux()
	for _, r := range m.Routes() {
		mux.HandleFunc(r.Method+" "+r.Path, r.Handler)
	}

	tests := []struct {
		path    string
		wantLen int
	}{
		{"/devices/p1/status", 5},
		{"/devices/p1/status?limit=2", 2},
		{"/devices/p1/status?limit=bogus", 5},
		{"/devices/p1/errors", 1},
		{"/devices/unknown/errors", 0},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", tt.path, w.Code)
		}
		var got []json.RawMessage
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatalf("%s: decode: %v", tt.path, err)
		}
		if len(got) != tt.wantLen {
			t.Errorf("%s: len = %d, want %d", tt.path, len(got), tt.wantLen)
		}
	}
}

func TestLifecycle(t *testing.T) {
	m := newTestModule(t)
	m.cfg.PruneInterval = 10 * time.Millisecond
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
