// Package discovery finds network printers via mDNS and announces them on
// the event bus so the fleet module can start monitoring them.
package discovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/pkg/plugin"
)

// Config holds discovery settings.
type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Services []string      `mapstructure:"services"`
}

// DefaultConfig returns the default discovery configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Timeout:  3 * time.Second,
		Services: append([]string(nil), printerServices...),
	}
}

// Module implements the discovery plugin.
type Module struct {
	logger   *zap.Logger
	bus      plugin.EventBus
	cfg      Config
	listener *MDNSListener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a discovery module.
func New() *Module {
	return &Module{cfg: DefaultConfig()}
}

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "discovery",
		Version:     "0.1.0",
		Description: "mDNS printer discovery",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return err
		}
	}
	if m.cfg.Interval <= 0 {
		m.cfg.Interval = DefaultConfig().Interval
	}
	if len(m.cfg.Services) == 0 {
		m.cfg.Services = DefaultConfig().Services
	}
	m.listener = NewMDNSListener(m.bus, m.logger, m.cfg)
	m.logger.Info("discovery module initialized",
		zap.Duration("interval", m.cfg.Interval),
		zap.Strings("services", m.cfg.Services),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.listener.Run(ctx)
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

func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{
		Status:  plugin.StatusHealthy,
		Details: map[string]string{"interval": m.cfg.Interval.String()},
	}
}
