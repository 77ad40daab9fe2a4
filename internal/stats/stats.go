// Package stats computes fleet-wide status counts and caches them for a
// fixed time so dashboards can poll cheaply.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/pkg/models"
)

// DefaultTTL is how long computed statistics stay cached.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "printwatch:stats:"

// StatusSource supplies the current fleet snapshot.
type StatusSource interface {
	GetAllStatuses() []models.DeviceStatus
}

// FleetStats summarizes the fleet, or one location of it.
type FleetStats struct {
	Scope       string    `json:"scope"`
	DeviceCount int       `json:"device_count"`
	Online      int       `json:"online"`
	Offline     int       `json:"offline"`
	Error       int       `json:"error"`
	Maintenance int       `json:"maintenance"`
	Stale       int       `json:"stale"`
	LowSupplies int       `json:"low_supplies"`
	PagesTotal  int64     `json:"pages_total"`
	LastUpdated time.Time `json:"last_updated"`
}

// Service computes FleetStats and caches them per scope.
type Service struct {
	src        StatusSource
	kv         KVStore
	ttl        time.Duration
	lowPercent int
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a Service. A zero ttl uses DefaultTTL.
func New(src StatusSource, kv KVStore, ttl time.Duration, lowPercent int, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		src:        src,
		kv:         kv,
		ttl:        ttl,
		lowPercent: lowPercent,
		logger:     logger,
		now:        time.Now,
	}
}

// Get returns the statistics for scope, which is a device location or ""
// for the whole fleet. Cache failures fall back to computing fresh values.
func (s *Service) Get(ctx context.Context, scope string) (FleetStats, error) {
	key := keyPrefix + scope
	raw, err := s.kv.Get(ctx, key)
	switch {
	case err == nil:
		var fs FleetStats
		if jerr := json.Unmarshal([]byte(raw), &fs); jerr == nil {
			return fs, nil
		}
		s.logger.Warn("discarding corrupt stats cache entry", zap.String("key", key))
	case !errors.Is(err, ErrCacheMiss):
		s.logger.Warn("stats cache read failed", zap.String("key", key), zap.Error(err))
	}

	fs := s.compute(scope)
	data, err := json.Marshal(fs)
	if err != nil {
		return FleetStats{}, err
	}
	if err := s.kv.Set(ctx, key, string(data), s.ttl); err != nil {
		s.logger.Warn("stats cache write failed", zap.String("key", key), zap.Error(err))
	}
	return fs, nil
}

// Invalidate drops the cached statistics for the given scopes.
func (s *Service) Invalidate(ctx context.Context, scopes ...string) error {
	keys := make([]string, len(scopes))
	for i, sc := range scopes {
		keys[i] = keyPrefix + sc
	}
	return s.kv.Del(ctx, keys...)
}

func (s *Service) compute(scope string) FleetStats {
	fs := FleetStats{Scope: scope, LastUpdated: s.now().UTC()}
	for _, st := range s.src.GetAllStatuses() {
		if scope != "" && st.Location != scope {
			continue
		}
		fs.DeviceCount++
		switch st.State {
		case models.StateOnline:
			fs.Online++
		case models.StateOffline:
			fs.Offline++
		case models.StateError:
			fs.Error++
		case models.StateMaintenance:
			fs.Maintenance++
		}
		if st.Stale {
			fs.Stale++
		}
		for _, sup := range st.Supplies {
			if sup.LevelPercent <= s.lowPercent {
				fs.LowSupplies++
				break
			}
		}
		fs.PagesTotal += st.Counters.TotalPages
	}
	return fs
}
