package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/HerbHall/printwatch/pkg/models"
)

// SimulatedDriver produces plausible changing statuses for demo fleets.
// Supplies drain slowly and each poll has a small chance of going offline
// or reporting a paper jam.
type SimulatedDriver struct {
	mu    sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
	state map[string]*simState
	// OfflineRate and JamRate are per-poll probabilities.
	OfflineRate float64
	JamRate     float64
}

type simState struct {
	supplies []models.Supply
	pages    int64
	jams     int64
}

// NewSimulatedDriver creates a simulator seeded with seed.
func NewSimulatedDriver(seed uint64) *SimulatedDriver {
	return &SimulatedDriver{
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:         time.Now,
		state:       make(map[string]*simState),
		OfflineRate: 0.1,
		JamRate:     0.05,
	}
}

// Fetch returns the next simulated status for t.
func (d *SimulatedDriver) Fetch(ctx context.Context, t Target) (models.DeviceStatus, error) {
	if err := ctx.Err(); err != nil {
		return models.DeviceStatus{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.state[t.ID]
	if !ok {
		s = &simState{
			supplies: []models.Supply{
				{Name: "Black Toner", LevelPercent: d.rng.IntN(100), ColorHint: "black"},
				{Name: "Cyan Toner", LevelPercent: d.rng.IntN(100), ColorHint: "cyan"},
				{Name: "Magenta Toner", LevelPercent: d.rng.IntN(100), ColorHint: "magenta"},
				{Name: "Yellow Toner", LevelPercent: d.rng.IntN(100), ColorHint: "yellow"},
			},
			pages: int64(d.rng.IntN(5000)),
		}
		d.state[t.ID] = s
	}

	st := models.DeviceStatus{
		DisplayName: t.DisplayName,
		Model:       t.Model,
		Location:    t.Location,
		State:       models.StateOnline,
	}
	if st.Model == "" {
		st.Model = "HP LaserJet Pro M404n"
	}

	switch r := d.rng.Float64(); {
	case r < d.OfflineRate:
		st.State = models.StateOffline
	case r < d.OfflineRate+d.JamRate:
		st.State = models.StateError
		st.ErrorMessage = "Paper jam in tray 1"
		s.jams++
	default:
		pages := d.rng.IntN(20) + 1
		s.pages += int64(pages)
		for i := range s.supplies {
			s.supplies[i].LevelPercent = max(0, s.supplies[i].LevelPercent-d.rng.IntN(2))
		}
		st.LastJob = &models.JobSnapshot{
			Name:        fmt.Sprintf("document-%d.pdf", d.rng.IntN(1000)),
			CompletedAt: d.now().UTC(),
			Pages:       pages,
		}
	}

	st.Supplies = append([]models.Supply(nil), s.supplies...)
	st.Counters = models.Counters{TotalPages: s.pages, JamCount: s.jams}
	return st, nil
}
