package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/printwatch/pkg/models"
)

// NewStatus returns an online DeviceStatus with two supplies, suitable for
// test fixtures. Override fields with options.
func NewStatus(id string, opts ...func(*models.DeviceStatus)) models.DeviceStatus {
	s := models.DeviceStatus{
		ID:          id,
		DisplayName: "Test Copier " + id,
		Location:    "Floor 2",
		Model:       "Canon imageRUNNER C3226i",
		State:       models.StateOnline,
		Supplies: []models.Supply{
			{Name: "Black Toner", LevelPercent: 72, ColorHint: "black"},
			{Name: "Cyan Toner", LevelPercent: 45, ColorHint: "cyan"},
		},
		Counters:  models.Counters{TotalPages: 1200, JamCount: 3},
		UpdatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithState sets the operational state.
func WithState(state models.OperationalState) func(*models.DeviceStatus) {
	return func(s *models.DeviceStatus) { s.State = state }
}

// WithError puts the device in the error state with msg.
func WithError(msg string) func(*models.DeviceStatus) {
	return func(s *models.DeviceStatus) {
		s.State = models.StateError
		s.ErrorMessage = msg
	}
}

// WithSupply replaces the supply list with a single supply.
func WithSupply(name string, level int) func(*models.DeviceStatus) {
	return func(s *models.DeviceStatus) {
		s.Supplies = []models.Supply{{Name: name, LevelPercent: level}}
	}
}

// WithCounters sets the lifetime counters.
func WithCounters(pages, jams int64) func(*models.DeviceStatus) {
	return func(s *models.DeviceStatus) { s.Counters = models.Counters{TotalPages: pages, JamCount: jams} }
}

// StaticFetcher serves preset statuses or errors per device and counts calls.
type StaticFetcher struct {
	mu       sync.Mutex
	statuses map[string]models.DeviceStatus
	errs     map[string]error
	calls    map[string]int
}

// NewStaticFetcher returns a fetcher that knows the given statuses.
func NewStaticFetcher(statuses ...models.DeviceStatus) *StaticFetcher {
	f := &StaticFetcher{
		statuses: make(map[string]models.DeviceStatus),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
	for _, s := range statuses {
		f.statuses[s.ID] = s
	}
	return f
}

// FetchStatus returns the preset error or status for deviceID.
func (f *StaticFetcher) FetchStatus(_ context.Context, deviceID string) (models.DeviceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[deviceID]++
	if err := f.errs[deviceID]; err != nil {
		return models.DeviceStatus{}, err
	}
	if s, ok := f.statuses[deviceID]; ok {
		return s.Clone(), nil
	}
	return NewStatus(deviceID), nil
}

// Set replaces the status served for its ID.
func (f *StaticFetcher) Set(s models.DeviceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[s.ID] = s
}

// Fail makes every fetch of deviceID return err. A nil err clears it.
func (f *StaticFetcher) Fail(deviceID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[deviceID] = err
}

// Calls returns how many times deviceID was fetched.
func (f *StaticFetcher) Calls(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[deviceID]
}
