package source

import (
	"context"
	"testing"
	"time"

	"github.com/HerbHall/printwatch/pkg/models"
)

func TestSimulatedDriver(t *testing.T) {
	d := NewSimulatedDriver(42)
	fixed := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }
	tg := Target{ID: "demo-1", DisplayName: "Demo", Driver: DriverSimulated}
	ctx := context.Background()

	var lastPages int64
	for i := range 50 {
		st, err := d.Fetch(ctx, tg)
		if err != nil {
			t.Fatalf("Fetch #%d: %v", i, err)
		}
		if !st.State.Valid() {
			t.Fatalf("Fetch #%d state = %q", i, st.State)
		}
		if len(st.Supplies) != 4 {
			t.Fatalf("Fetch #%d supplies = %d, want 4", i, len(st.Supplies))
		}
		for _, s := range st.Supplies {
			if s.LevelPercent < 0 || s.LevelPercent > 100 {
				t.Errorf("supply %s level %d out of range", s.Name, s.LevelPercent)
			}
		}
		if st.Counters.TotalPages < lastPages {
			t.Errorf("TotalPages went backwards: %d < %d", st.Counters.TotalPages, lastPages)
		}
		lastPages = st.Counters.TotalPages
		if st.State == models.StateError && st.ErrorMessage == "" {
			t.Error("error state without message")
		}
		if st.LastJob != nil && !st.LastJob.CompletedAt.Equal(fixed) {
			t.Errorf("LastJob.CompletedAt = %v", st.LastJob.CompletedAt)
		}
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := d.Fetch(cctx, tg); err == nil {
		t.Error("Fetch with cancelled context = nil error")
	}
}
