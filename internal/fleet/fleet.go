// Package fleet is the printer monitoring plugin. It owns the Monitor, routes
// status fetches to the configured sources, and fans monitor events out to the
// event bus, Prometheus and live stream clients.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/printwatch/internal/maintenance"
	"github.com/HerbHall/printwatch/internal/monitor"
	"github.com/HerbHall/printwatch/internal/source"
	"github.com/HerbHall/printwatch/internal/stats"
	"github.com/HerbHall/printwatch/pkg/models"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

// Option configures a Module before Init.
type Option func(*Module)

// WithRegisterer sets the Prometheus registerer for the module's metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Module) { m.registerer = reg }
}

// WithDrivers replaces the default status source drivers.
func WithDrivers(drivers map[string]source.Driver) Option {
	return func(m *Module) { m.drivers = drivers }
}

// WithKV sets the statistics cache, overriding redis_addr.
func WithKV(kv stats.KVStore) Option {
	return func(m *Module) { m.kv = kv }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Module) { m.now = now }
}

// Module implements the fleet plugin.
type Module struct {
	logger     *zap.Logger
	bus        plugin.EventBus
	cfg        Config
	registerer prometheus.Registerer
	drivers    map[string]source.Driver
	kv         stats.KVStore
	redis      *redis.Client
	now        func() time.Time

	router  *source.Router
	monitor *monitor.Monitor
	stats   *stats.Service
	maint   *maintenance.Store
	targets TargetRepository
	// configured holds ids declared in the config file; they stay routed
	// after monitoring stops.
	configured map[string]bool
	metrics    *metrics
	limiter    *rate.Limiter
	hub        *hub
	subs       []monitor.Subscription
}

// New creates a fleet module.
func New(opts ...Option) *Module {
	m := &Module{
		cfg:        DefaultConfig(),
		registerer: prometheus.DefaultRegisterer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.Validator       = (*Module)(nil)
)

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "fleet",
		Version:     "0.1.0",
		Description: "Printer status monitoring with retry and live events",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("fleet config: %w", err)
		}
	}
	if err := m.ValidateConfig(); err != nil {
		return err
	}

	if m.drivers == nil {
		m.drivers = map[string]source.Driver{
			source.DriverSNMP:      source.NewSNMPDriver(m.cfg.SNMPTimeout, m.cfg.SNMPRetries),
			source.DriverHTTP:      source.NewHTTPDriver(m.cfg.HTTPTimeout),
			source.DriverICMP:      source.NewICMPDriver(m.cfg.PingTimeout, m.cfg.PingCount),
			source.DriverSimulated: source.NewSimulatedDriver(m.cfg.SimSeed),
		}
	}
	if deps.Store != nil {
		if err := deps.Store.Migrate(ctx, "fleet", migrations()); err != nil {
			return fmt.Errorf("fleet migrations: %w", err)
		}
		m.maint = maintenance.NewStore(deps.Store.DB())
		m.targets = NewSQLiteTargetRepository(deps.Store.DB())
		m.restorePollInterval(ctx)
	}

	m.router = source.NewRouter(m.drivers, m.logger.Named("source"))
	m.configured = make(map[string]bool, len(m.cfg.Devices))
	for _, t := range m.cfg.Devices {
		if err := m.router.Add(t); err != nil {
			return fmt.Errorf("fleet device: %w", err)
		}
		m.configured[t.ID] = true
	}
	m.restoreTargets(ctx)

	m.metrics = newMetrics(m.registerer)
	m.monitor = monitor.New(m.router, m.cfg.Config, m.logger.Named("monitor"),
		monitor.WithObserver(m.metrics),
		monitor.WithClock(m.now),
	)

	if m.kv == nil {
		m.kv = m.openKV(ctx)
	}
	m.stats = stats.New(m.monitor, m.kv, m.cfg.StatsTTL, m.cfg.LowSupplyPercent, m.logger.Named("stats"))

	m.limiter = rate.NewLimiter(rate.Limit(m.cfg.RefreshRate), m.cfg.RefreshBurst)
	m.hub = newHub(m.logger)
	m.subs = append(m.subs,
		m.monitor.SubscribeStatus(m.onStatusChanged),
		m.monitor.SubscribeErrors(m.onDeviceError),
	)

	m.logger.Info("fleet module initialized",
		zap.Int("devices", len(m.cfg.Devices)),
		zap.Duration("poll_interval", m.cfg.DefaultPollInterval),
		zap.Duration("retry_delay", m.cfg.RetryDelay),
		zap.Int("max_retries", m.cfg.MaxRetries),
	)
	return nil
}

// openKV connects to Redis when configured and falls back to an in-process
// cache when it is not or the server is unreachable.
func (m *Module) openKV(ctx context.Context) stats.KVStore {
	if m.cfg.RedisAddr == "" {
		return stats.NewMemoryKV()
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	client, err := stats.NewRedisClient(pingCtx, m.cfg.RedisAddr, m.cfg.RedisPassword, m.cfg.RedisDB)
	if err != nil {
		m.logger.Warn("redis unavailable, using in-memory stats cache",
			zap.String("addr", m.cfg.RedisAddr),
			zap.Error(err),
		)
		return stats.NewMemoryKV()
	}
	m.redis = client
	return stats.NewRedisKV(client)
}

func (m *Module) Start(_ context.Context) error {
	for _, t := range m.router.Targets() {
		if err := m.monitor.StartMonitoring(t.ID, t.Interval); err != nil {
			return fmt.Errorf("start monitoring %q: %w", t.ID, err)
		}
	}
	m.logger.Info("fleet module started", zap.Int("monitored", len(m.monitor.MonitoredDevices())))
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	for _, sub := range m.subs {
		m.monitor.Unsubscribe(sub)
	}
	m.subs = nil
	m.monitor.Close()
	m.hub.close()
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			m.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	m.logger.Info("fleet module stopped")
	return nil
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("fleet config: %w", err)
	}
	return nil
}

// Health reports degraded when any monitored device is stale.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.monitor == nil {
		return plugin.HealthStatus{Status: plugin.StatusUnhealthy, Message: "not initialized"}
	}
	monitored := m.monitor.MonitoredDevices()
	var stale int
	for _, st := range m.monitor.GetAllStatuses() {
		if st.Stale {
			stale++
		}
	}
	h := plugin.HealthStatus{
		Status: plugin.StatusHealthy,
		Details: map[string]string{
			"monitored":      strconv.Itoa(len(monitored)),
			"stale":          strconv.Itoa(stale),
			"stream_clients": strconv.Itoa(m.hub.count()),
		},
	}
	if stale > 0 {
		h.Status = plugin.StatusDegraded
		h.Message = fmt.Sprintf("%d of %d devices unreachable", stale, len(monitored))
	}
	return h
}

// Monitor exposes the underlying monitor.
func (m *Module) Monitor() *monitor.Monitor { return m.monitor }

func (m *Module) onStatusChanged(ev monitor.StatusChangedEvent) {
	m.metrics.observeStatus(ev.Status)
	m.hub.broadcast(msgStatusChanged, ev.Status)
	m.publish(TopicStatusChanged, &StatusEvent{
		DeviceID:  ev.DeviceID,
		Timestamp: ev.Timestamp,
		Status:    ev.Status,
	})
}

func (m *Module) onDeviceError(ev monitor.ErrorEvent) {
	stale := ev.Severity == monitor.SeverityHigh
	m.metrics.observeError(ev, stale)
	payload := &ErrorEvent{
		DeviceID:     ev.DeviceID,
		Timestamp:    ev.Timestamp,
		Error:        ev.Err.Error(),
		Severity:     string(ev.Severity),
		FailureCount: ev.FailureCount,
	}
	m.hub.broadcast(msgError, payload)
	m.publish(TopicDeviceError, payload)
	m.logger.Warn("device error",
		zap.String("device_id", ev.DeviceID),
		zap.String("severity", string(ev.Severity)),
		zap.Int("failures", ev.FailureCount),
		zap.Error(ev.Err),
	)
}

func (m *Module) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(context.Background(), plugin.Event{
		Topic:     topic,
		Source:    "fleet",
		Timestamp: m.now(),
		Payload:   payload,
	})
}

// restorePollInterval applies a poll interval saved through the API. It
// overrides the configured value.
func (m *Module) restorePollInterval(ctx context.Context) {
	raw, err := m.targets.Setting(ctx, settingPollInterval)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("failed to load saved poll interval", zap.Error(err))
		}
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= m.cfg.RetryDelay {
		m.logger.Warn("ignoring invalid saved poll interval", zap.String("value", raw))
		return
	}
	m.cfg.DefaultPollInterval = d
}

// restoreTargets registers devices saved at runtime. Devices declared in
// the configuration file win over saved ones with the same id.
func (m *Module) restoreTargets(ctx context.Context) {
	if m.targets == nil {
		return
	}
	saved, err := m.targets.List(ctx)
	if err != nil {
		m.logger.Warn("failed to load saved devices", zap.Error(err))
		return
	}
	for _, t := range saved {
		if _, ok := m.router.Target(t.ID); ok {
			continue
		}
		if err := m.router.Add(t); err != nil {
			m.logger.Warn("skipping invalid saved device", zap.String("device_id", t.ID), zap.Error(err))
		}
	}
}

// setPollInterval changes the default interval and saves it.
func (m *Module) setPollInterval(ctx context.Context, d time.Duration) error {
	if err := m.monitor.SetPollInterval(d); err != nil {
		return err
	}
	if m.targets != nil {
		if err := m.targets.SetSetting(ctx, settingPollInterval, d.String()); err != nil {
			m.logger.Warn("failed to save poll interval", zap.Error(err))
		}
	}
	return nil
}

// startDevice registers or updates t, begins monitoring it or applies its
// new interval, and saves it.
func (m *Module) startDevice(ctx context.Context, t source.Target) error {
	if err := m.router.Add(t); err != nil {
		return err
	}
	if err := m.monitor.StartMonitoring(t.ID, t.Interval); err != nil {
		return err
	}
	// StartMonitoring keeps the schedule of a device already monitored.
	if err := m.monitor.SetDeviceInterval(t.ID, t.Interval); err != nil {
		return err
	}
	if m.targets != nil {
		if err := m.targets.Save(ctx, t); err != nil {
			m.logger.Warn("failed to save device", zap.String("device_id", t.ID), zap.Error(err))
		}
	}
	m.invalidateStats(ctx)
	return nil
}

func (m *Module) stopDevice(ctx context.Context, id string) error {
	if err := m.monitor.StopMonitoring(id); err != nil {
		return err
	}
	if m.targets != nil {
		if err := m.targets.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.Warn("failed to delete saved device", zap.String("device_id", id), zap.Error(err))
		}
	}
	if !m.configured[id] {
		m.router.Remove(id)
	}
	m.metrics.forget(id)
	m.invalidateStats(ctx)
	return nil
}

func (m *Module) invalidateStats(ctx context.Context) {
	scopes := []string{""}
	seen := map[string]bool{"": true}
	for _, t := range m.router.Targets() {
		if !seen[t.Location] {
			seen[t.Location] = true
			scopes = append(scopes, t.Location)
		}
	}
	if err := m.stats.Invalidate(ctx, scopes...); err != nil {
		m.logger.Debug("stats invalidation failed", zap.Error(err))
	}
}

// statuses returns every known status, optionally filtered by location.
func (m *Module) statuses(location string) []models.DeviceStatus {
	all := m.monitor.GetAllStatuses()
	out := make([]models.DeviceStatus, 0, len(all))
	for _, st := range all {
		if location == "" || st.Location == location {
			out = append(out, st)
		}
	}
	return out
}
