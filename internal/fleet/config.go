package fleet

import (
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/printwatch/internal/monitor"
	"github.com/HerbHall/printwatch/internal/source"
)

// Config holds the fleet module settings.
type Config struct {
	monitor.Config `mapstructure:",squash"`

	// RefreshRate and RefreshBurst bound manual refreshes, per second.
	RefreshRate  float64 `mapstructure:"refresh_rate"`
	RefreshBurst int     `mapstructure:"refresh_burst"`

	StatsTTL              time.Duration `mapstructure:"stats_ttl"`
	LowSupplyPercent      int           `mapstructure:"low_supply_percent"`
	CriticalSupplyPercent int           `mapstructure:"critical_supply_percent"`

	SNMPTimeout time.Duration `mapstructure:"snmp_timeout"`
	SNMPRetries int           `mapstructure:"snmp_retries"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	PingCount   int           `mapstructure:"ping_count"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
	SimSeed     uint64        `mapstructure:"sim_seed"`

	// RedisAddr enables the shared Redis statistics cache when set.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Discovered printers are monitored with this driver and community.
	DiscoveryDriver    string `mapstructure:"discovery_driver"`
	DiscoveryCommunity string `mapstructure:"discovery_community"`

	// WSOriginPatterns lists extra origins allowed to open the event stream.
	WSOriginPatterns []string `mapstructure:"ws_origin_patterns"`

	Devices []source.Target `mapstructure:"devices"`
}

// DefaultConfig returns the default fleet configuration.
func DefaultConfig() Config {
	return Config{
		Config:                monitor.DefaultConfig(),
		RefreshRate:           1,
		RefreshBurst:          5,
		StatsTTL:              5 * time.Minute,
		LowSupplyPercent:      20,
		CriticalSupplyPercent: 5,
		SNMPTimeout:           5 * time.Second,
		SNMPRetries:           1,
		HTTPTimeout:           10 * time.Second,
		PingCount:             3,
		PingTimeout:           5 * time.Second,
		SimSeed:               1,
		DiscoveryDriver:       source.DriverSNMP,
		DiscoveryCommunity:    "public",
	}
}

// Validate checks the configuration, including every device target.
func (c Config) Validate() error {
	var errs []error
	if err := c.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.RefreshRate <= 0 {
		errs = append(errs, fmt.Errorf("refresh_rate must be positive, got %v", c.RefreshRate))
	}
	if c.RefreshBurst < 1 {
		errs = append(errs, fmt.Errorf("refresh_burst must be at least 1, got %d", c.RefreshBurst))
	}
	if c.CriticalSupplyPercent < 0 || c.LowSupplyPercent > 100 || c.CriticalSupplyPercent > c.LowSupplyPercent {
		errs = append(errs, fmt.Errorf("supply thresholds must satisfy 0 <= critical (%d) <= low (%d) <= 100",
			c.CriticalSupplyPercent, c.LowSupplyPercent))
	}
	switch c.DiscoveryDriver {
	case source.DriverSNMP, source.DriverICMP:
	default:
		errs = append(errs, fmt.Errorf("discovery_driver must be snmp or icmp, got %q", c.DiscoveryDriver))
	}
	if err := source.ValidateTargets(c.Devices); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
