package source

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/pkg/models"
)

type fakeDriver struct {
	status models.DeviceStatus
	err    error
	got    []Target
}

func (f *fakeDriver) Fetch(_ context.Context, t Target) (models.DeviceStatus, error) {
	f.got = append(f.got, t)
	return f.status, f.err
}

func TestRouter_FetchStatus(t *testing.T) {
	snmp := &fakeDriver{status: models.DeviceStatus{State: models.StateOnline, Model: "MFP 4000"}}
	r := NewRouter(map[string]Driver{DriverSNMP: snmp}, zap.NewNop())

	err := r.Add(Target{ID: "p1", DisplayName: "Reception", Location: "Lobby", Model: "configured", Driver: DriverSNMP, Address: "10.0.0.9"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	st, err := r.FetchStatus(context.Background(), "p1")
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if st.ID != "p1" || st.DisplayName != "Reception" || st.Location != "Lobby" {
		t.Errorf("metadata = %q/%q/%q, want p1/Reception/Lobby", st.ID, st.DisplayName, st.Location)
	}
	if st.Model != "MFP 4000" {
		t.Errorf("Model = %q, want driver-reported MFP 4000", st.Model)
	}
	if len(snmp.got) != 1 || snmp.got[0].Address != "10.0.0.9" {
		t.Errorf("driver received %+v", snmp.got)
	}
}

func TestRouter_Errors(t *testing.T) {
	boom := errors.New("timeout")
	r := NewRouter(map[string]Driver{DriverICMP: &fakeDriver{err: boom}}, nil)

	if _, err := r.FetchStatus(context.Background(), "missing"); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("FetchStatus(missing) = %v, want ErrUnknownTarget", err)
	}
	if err := r.Add(Target{ID: "p1", Driver: DriverSNMP, Address: "h"}); err == nil {
		t.Error("Add with unavailable driver = nil, want error")
	}
	if err := r.Add(Target{ID: "p2", Driver: DriverICMP, Address: "h"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := r.FetchStatus(context.Background(), "p2"); !errors.Is(err, boom) {
		t.Errorf("FetchStatus(p2) = %v, want wrapped driver error", err)
	}

	r.Remove("p2")
	if _, ok := r.Target("p2"); ok {
		t.Error("Target(p2) found after Remove")
	}
	if n := len(r.Targets()); n != 0 {
		t.Errorf("Targets() len = %d, want 0", n)
	}
}
