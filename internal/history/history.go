// Package history persists device status changes and errors published by
// the fleet module and serves them over HTTP.
package history

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/fleet"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

// Config holds history settings.
type Config struct {
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// DefaultConfig returns the default history configuration.
func DefaultConfig() Config {
	return Config{
		Retention:     30 * 24 * time.Hour,
		PruneInterval: time.Hour,
	}
}

// Module implements the history plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config
	store  *Store
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	lastPrune time.Time
	writeErrs int
}

// New creates a history module.
func New() *Module {
	return &Module{cfg: DefaultConfig(), now: time.Now}
}

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "history",
		Version:      "0.1.0",
		Description:  "Device status and error history",
		Dependencies: []string{"fleet"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return err
		}
	}
	if m.cfg.PruneInterval <= 0 {
		m.cfg.PruneInterval = DefaultConfig().PruneInterval
	}
	if deps.Store == nil {
		return errors.New("history requires a store")
	}
	if err := deps.Store.Migrate(ctx, "history", migrations()); err != nil {
		return err
	}
	m.store = NewStore(deps.Store.DB())
	m.logger.Info("history module initialized", zap.Duration("retention", m.cfg.Retention))
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.Retention <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runPruner(ctx)
	}()
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: fleet.TopicStatusChanged, Handler: m.handleStatusChanged},
		{Topic: fleet.TopicDeviceError, Handler: m.handleDeviceError},
	}
}

// Health reports degraded after failed writes since the last success.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := plugin.HealthStatus{Status: plugin.StatusHealthy, Details: map[string]string{
		"retention":    m.cfg.Retention.String(),
		"write_errors": strconv.Itoa(m.writeErrs),
	}}
	if !m.lastPrune.IsZero() {
		h.Details["last_prune"] = m.lastPrune.UTC().Format(time.RFC3339)
	}
	if m.writeErrs > 0 {
		h.Status = plugin.StatusDegraded
		h.Message = "history writes failing"
	}
	return h
}

func (m *Module) handleStatusChanged(ctx context.Context, event plugin.Event) {
	se, ok := event.Payload.(*fleet.StatusEvent)
	if !ok {
		m.logger.Warn("unexpected payload type for status changed event")
		return
	}
	rec := &StatusRecord{
		DeviceID:     se.DeviceID,
		State:        se.Status.State,
		Stale:        se.Status.Stale,
		ErrorMessage: se.Status.ErrorMessage,
		Supplies:     se.Status.Supplies,
		TotalPages:   se.Status.Counters.TotalPages,
		RecordedAt:   se.Timestamp,
	}
	m.recordWrite(m.store.InsertStatus(ctx, rec), se.DeviceID)
}

func (m *Module) handleDeviceError(ctx context.Context, event plugin.Event) {
	ee, ok := event.Payload.(*fleet.ErrorEvent)
	if !ok {
		m.logger.Warn("unexpected payload type for device error event")
		return
	}
	rec := &ErrorRecord{
		DeviceID:     ee.DeviceID,
		Message:      ee.Error,
		Severity:     ee.Severity,
		FailureCount: ee.FailureCount,
		OccurredAt:   ee.Timestamp,
	}
	m.recordWrite(m.store.InsertError(ctx, rec), ee.DeviceID)
}

func (m *Module) recordWrite(err error, deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.writeErrs++
		m.logger.Warn("failed to write history", zap.String("device_id", deviceID), zap.Error(err))
		return
	}
	m.writeErrs = 0
}

func (m *Module) runPruner(ctx context.Context) {
	m.prune(ctx)
	ticker := time.NewTicker(m.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.prune(ctx)
		}
	}
}

func (m *Module) prune(ctx context.Context) {
	cutoff := m.now().Add(-m.cfg.Retention)
	n, err := m.store.Prune(ctx, cutoff)
	if err != nil {
		m.logger.Warn("history prune failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.lastPrune = m.now()
	m.mu.Unlock()
	if n > 0 {
		m.logger.Info("pruned history", zap.Int64("rows", n), zap.Time("before", cutoff))
	}
}
