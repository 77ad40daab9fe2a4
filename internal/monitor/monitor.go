// Package monitor keeps the live status of a set of devices current. Each
// monitored device is polled on its own timer; failed fetches are retried a
// bounded number of times before an error event is published.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/printwatch/pkg/models"
)

// Fetcher retrieves the current status of a device from its source.
type Fetcher interface {
	FetchStatus(ctx context.Context, deviceID string) (models.DeviceStatus, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, deviceID string) (models.DeviceStatus, error)

func (f FetcherFunc) FetchStatus(ctx context.Context, deviceID string) (models.DeviceStatus, error) {
	return f(ctx, deviceID)
}

// Observer is notified of every completed fetch, scheduled or manual.
type Observer interface {
	ObservePoll(deviceID string, elapsed time.Duration, err error)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithObserver registers an Observer for fetch outcomes.
func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observer = o }
}

// RefreshResult is the outcome of refreshing one device.
type RefreshResult struct {
	DeviceID string
	Status   models.DeviceStatus
	Err      error
}

// handle is the per-device polling state. Its identity is the token that
// decides whether a completed fetch still belongs to a live registration.
type handle struct {
	deviceID string
	interval time.Duration // zero means the monitor default
	cancel   context.CancelFunc
	rearm    chan struct{}
	failures int
}

// Monitor owns the Store, the Publisher and one polling goroutine per
// monitored device.
type Monitor struct {
	fetcher  Fetcher
	logger   *zap.Logger
	store    *Store
	pub      *Publisher
	now      func() time.Time
	observer Observer

	mu      sync.Mutex
	cfg     Config
	handles map[string]*handle
	closed  bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Monitor. Non-positive durations and a negative MaxRetries
// in cfg take their default values; MaxRetries of zero means no retries.
func New(fetcher Fetcher, cfg Config, logger *zap.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.DefaultPollInterval <= 0 {
		cfg.DefaultPollInterval = def.DefaultPollInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		fetcher:    fetcher,
		logger:     logger,
		store:      NewStore(),
		pub:        NewPublisher(logger),
		now:        time.Now,
		cfg:        cfg,
		handles:    make(map[string]*handle),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartMonitoring begins polling deviceID every interval, or at the default
// interval when interval is zero. The first fetch runs immediately in the
// background. Starting an already monitored device is a no-op.
func (m *Monitor) StartMonitoring(deviceID string, interval time.Duration) error {
	if deviceID == "" {
		return ErrInvalidDevice
	}
	if interval < 0 {
		interval = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.handles[deviceID]; ok {
		return nil
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	h := &handle{
		deviceID: deviceID,
		interval: interval,
		cancel:   cancel,
		rearm:    make(chan struct{}, 1),
	}
	m.handles[deviceID] = h
	m.wg.Add(1)
	go m.run(ctx, h)

	m.logger.Info("monitoring started",
		zap.String("device_id", deviceID),
		zap.Duration("interval", m.intervalLocked(h)),
	)
	return nil
}

// StopMonitoring stops polling deviceID and drops its store entry. A fetch
// already in flight is left to finish; its result is discarded.
func (m *Monitor) StopMonitoring(deviceID string) error {
	m.mu.Lock()
	h, ok := m.handles[deviceID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownDevice
	}
	h.cancel()
	delete(m.handles, deviceID)
	m.store.Remove(deviceID)
	m.mu.Unlock()

	m.logger.Info("monitoring stopped", zap.String("device_id", deviceID))
	return nil
}

// RefreshOne fetches deviceID immediately without disturbing its timer.
// On failure the error is recorded, published and returned as a *FetchError.
func (m *Monitor) RefreshOne(ctx context.Context, deviceID string) (models.DeviceStatus, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return models.DeviceStatus{}, ErrClosed
	}
	h, ok := m.handles[deviceID]
	m.mu.Unlock()
	if !ok {
		return models.DeviceStatus{}, ErrUnknownDevice
	}

	status, err := m.fetch(ctx, deviceID)
	out := m.apply(h, status, err, false)
	if !out.current {
		return models.DeviceStatus{}, ErrUnknownDevice
	}
	if err != nil {
		return models.DeviceStatus{}, asFetchError(deviceID, err)
	}
	return out.status, nil
}

// RefreshAll refreshes every monitored device concurrently. Each result is
// independent of the others.
func (m *Monitor) RefreshAll(ctx context.Context) []RefreshResult {
	ids := m.MonitoredDevices()
	results := make([]RefreshResult, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			status, err := m.RefreshOne(ctx, id)
			results[i] = RefreshResult{DeviceID: id, Status: status, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// SetPollInterval changes the default interval. Devices polled at the
// default are re-armed with the new value; stored statuses are kept.
func (m *Monitor) SetPollInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d <= m.cfg.RetryDelay {
		return fmt.Errorf("poll interval %s must exceed retry delay %s", d, m.cfg.RetryDelay)
	}
	m.cfg.DefaultPollInterval = d
	for _, h := range m.handles {
		if h.interval != 0 {
			continue
		}
		select {
		case h.rearm <- struct{}{}:
		default:
		}
	}
	m.logger.Info("default poll interval changed", zap.Duration("interval", d))
	return nil
}

// SetDeviceInterval changes the interval of one monitored device; zero
// means the default. The device is re-armed only when the value changes.
func (m *Monitor) SetDeviceInterval(deviceID string, interval time.Duration) error {
	if interval < 0 {
		interval = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[deviceID]
	if !ok {
		return ErrUnknownDevice
	}
	if h.interval == interval {
		return nil
	}
	h.interval = interval
	select {
	case h.rearm <- struct{}{}:
	default:
	}
	m.logger.Info("device poll interval changed",
		zap.String("device_id", deviceID),
		zap.Duration("interval", m.intervalLocked(h)),
	)
	return nil
}

// Close stops every device and waits for the polling goroutines to exit.
// In-flight fetches are cancelled. Close is safe to call more than once.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, h := range m.handles {
		h.cancel()
		delete(m.handles, id)
		m.store.Remove(id)
	}
	m.mu.Unlock()

	m.baseCancel()
	m.wg.Wait()
}

// GetStatus returns the latest known status of deviceID.
func (m *Monitor) GetStatus(deviceID string) (models.DeviceStatus, bool) {
	return m.store.Get(deviceID)
}

// GetAllStatuses returns a snapshot of every stored status.
func (m *Monitor) GetAllStatuses() []models.DeviceStatus {
	return m.store.GetAll()
}

// MonitoredDevices returns the ids of every monitored device, sorted.
func (m *Monitor) MonitoredDevices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsMonitored reports whether deviceID is currently monitored.
func (m *Monitor) IsMonitored(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[deviceID]
	return ok
}

// FailureCount returns the consecutive failure count of deviceID.
func (m *Monitor) FailureCount(deviceID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[deviceID]
	if !ok {
		return 0, false
	}
	return h.failures, true
}

// Config returns the current configuration.
func (m *Monitor) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Subscribe registers handler for events of kind.
func (m *Monitor) Subscribe(kind EventKind, handler Handler) Subscription {
	return m.pub.Subscribe(kind, handler)
}

// Unsubscribe removes the handler identified by sub.
func (m *Monitor) Unsubscribe(sub Subscription) bool {
	return m.pub.Unsubscribe(sub)
}

// SubscribeStatus registers a typed handler for StatusChangedEvent.
func (m *Monitor) SubscribeStatus(fn func(StatusChangedEvent)) Subscription {
	return m.pub.Subscribe(EventStatusChanged, func(e Event) {
		if ev, ok := e.(StatusChangedEvent); ok {
			fn(ev)
		}
	})
}

// SubscribeErrors registers a typed handler for ErrorEvent.
func (m *Monitor) SubscribeErrors(fn func(ErrorEvent)) Subscription {
	return m.pub.Subscribe(EventError, func(e Event) {
		if ev, ok := e.(ErrorEvent); ok {
			fn(ev)
		}
	})
}

// run is the per-device polling loop.
func (m *Monitor) run(ctx context.Context, h *handle) {
	defer m.wg.Done()
	if ctx.Err() != nil {
		return
	}
	delay := m.pollOnce(h)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.rearm:
			timer.Reset(m.nextDelay(h))
			continue
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}
		timer.Reset(m.pollOnce(h))
	}
}

// pollOnce performs a scheduled fetch and returns the delay until the next.
func (m *Monitor) pollOnce(h *handle) time.Duration {
	status, err := m.fetch(m.baseCtx, h.deviceID)
	out := m.apply(h, status, err, true)
	if !out.current {
		return m.nextDelay(h)
	}
	return out.next
}

// fetch calls the Fetcher and rejects statuses it cannot store.
func (m *Monitor) fetch(ctx context.Context, deviceID string) (models.DeviceStatus, error) {
	start := time.Now()
	status, err := m.fetcher.FetchStatus(ctx, deviceID)
	if err == nil && !status.State.Valid() {
		err = fmt.Errorf("%w: %q", models.ErrInvalidState, status.State)
	}
	if m.observer != nil {
		m.observer.ObservePoll(deviceID, time.Since(start), err)
	}
	if err != nil {
		return models.DeviceStatus{}, err
	}
	if status.ID == "" {
		status.ID = deviceID
	}
	return status, nil
}

type outcome struct {
	current bool
	status  models.DeviceStatus
	next    time.Duration
}

// apply records a completed fetch against h. Results for a handle that is
// no longer registered are discarded. Events are published after the lock
// is released.
func (m *Monitor) apply(h *handle, status models.DeviceStatus, err error, scheduled bool) outcome {
	now := m.now()

	m.mu.Lock()
	if m.handles[h.deviceID] != h {
		m.mu.Unlock()
		if err == nil {
			m.logger.Debug("discarding result for stopped device", zap.String("device_id", h.deviceID))
		}
		return outcome{status: status}
	}

	if err == nil {
		h.failures = 0
		status.UpdatedAt = now
		status.Stale = false
		status.Normalize()
		m.store.Set(h.deviceID, status)
		next := m.intervalLocked(h)
		m.mu.Unlock()

		m.pub.Publish(StatusChangedEvent{
			DeviceID:  h.deviceID,
			Timestamp: now,
			Status:    status.Clone(),
		})
		return outcome{current: true, status: status, next: next}
	}

	maxRetries := m.cfg.MaxRetries
	if h.failures <= maxRetries {
		h.failures++
	}
	failures := h.failures
	exhausted := failures > maxRetries
	if exhausted {
		m.markStaleLocked(h.deviceID, err, now)
	}

	next := m.intervalLocked(h)
	publish := !scheduled || exhausted
	if scheduled && !exhausted {
		next = m.cfg.RetryDelay
	}
	m.mu.Unlock()

	fields := []zap.Field{
		zap.String("device_id", h.deviceID),
		zap.Int("failures", failures),
		zap.Error(err),
	}
	switch {
	case exhausted:
		m.logger.Warn("device fetch failed, retries exhausted", fields...)
	case scheduled:
		m.logger.Debug("device fetch failed, retry scheduled", append(fields, zap.Duration("retry_in", next))...)
	default:
		m.logger.Debug("manual refresh failed", fields...)
	}

	if publish {
		m.pub.Publish(ErrorEvent{
			DeviceID:     h.deviceID,
			Timestamp:    now,
			Err:          asFetchError(h.deviceID, err),
			Severity:     SeverityFor(failures, maxRetries),
			FailureCount: failures,
		})
	}
	return outcome{current: true, next: next}
}

// markStaleLocked flags the stored entry as stale and offline, creating a
// placeholder when the device has never been fetched successfully.
func (m *Monitor) markStaleLocked(deviceID string, err error, now time.Time) {
	st, ok := m.store.Get(deviceID)
	if !ok {
		st = models.DeviceStatus{ID: deviceID, UpdatedAt: now}
	}
	st.State = models.StateOffline
	st.Stale = true
	st.ErrorMessage = err.Error()
	m.store.Set(deviceID, st)
}

// nextDelay returns the delay to the next scheduled fetch of h.
func (m *Monitor) nextDelay(h *handle) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.failures > 0 && h.failures <= m.cfg.MaxRetries {
		return m.cfg.RetryDelay
	}
	return m.intervalLocked(h)
}

func (m *Monitor) intervalLocked(h *handle) time.Duration {
	if h.interval > 0 {
		return h.interval
	}
	return m.cfg.DefaultPollInterval
}
