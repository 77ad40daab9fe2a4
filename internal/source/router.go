package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/pkg/models"
)

// Driver fetches the status of one target.
type Driver interface {
	Fetch(ctx context.Context, t Target) (models.DeviceStatus, error)
}

// Router dispatches status fetches to the driver configured for each
// device. It satisfies the monitor's Fetcher interface.
type Router struct {
	logger  *zap.Logger
	drivers map[string]Driver

	mu      sync.RWMutex
	targets map[string]Target
}

// NewRouter creates a Router over the given drivers, keyed by driver name.
func NewRouter(drivers map[string]Driver, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		logger:  logger,
		drivers: drivers,
		targets: make(map[string]Target),
	}
}

// Add validates and registers a target, replacing any with the same id.
func (r *Router) Add(t Target) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, ok := r.drivers[t.Driver]; !ok {
		return fmt.Errorf("target %q: driver %q not available", t.ID, t.Driver)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[t.ID] = t
	return nil
}

// Remove forgets the target for id.
func (r *Router) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, id)
}

// Target returns the configured target for id.
func (r *Router) Target(id string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[id]
	return t, ok
}

// Targets returns all targets sorted by id.
func (r *Router) Targets() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FetchStatus fetches deviceID through its driver and fills metadata the
// driver did not report from the target configuration.
func (r *Router) FetchStatus(ctx context.Context, deviceID string) (models.DeviceStatus, error) {
	t, ok := r.Target(deviceID)
	if !ok {
		return models.DeviceStatus{}, fmt.Errorf("%w: %q", ErrUnknownTarget, deviceID)
	}
	st, err := r.drivers[t.Driver].Fetch(ctx, t)
	if err != nil {
		r.logger.Debug("driver fetch failed",
			zap.String("device_id", deviceID),
			zap.String("driver", t.Driver),
			zap.Error(err),
		)
		return models.DeviceStatus{}, fmt.Errorf("%s driver: %w", t.Driver, err)
	}
	st.ID = t.ID
	if st.DisplayName == "" {
		st.DisplayName = t.DisplayName
	}
	if st.DisplayName == "" {
		st.DisplayName = t.ID
	}
	if st.Location == "" {
		st.Location = t.Location
	}
	if st.Model == "" {
		st.Model = t.Model
	}
	return st, nil
}
