// Package config wraps viper behind the plugin.Config interface and loads the
// printwatch configuration from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HerbHall/printwatch/pkg/plugin"
)

// EnvPrefix is the prefix for environment overrides, e.g. PRINTWATCH_SERVER_PORT.
const EnvPrefix = "PRINTWATCH"

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig adapts a *viper.Viper to plugin.Config.
type ViperConfig struct {
	v *viper.Viper
}

// New wraps v. A nil viper yields an empty configuration.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

// Load reads the config file at path (optional), applies environment
// overrides and defaults, and returns the raw viper instance.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("printwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/printwatch")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers the default values for every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.path", "printwatch.db")

	v.SetDefault("plugins.fleet.enabled", true)
	v.SetDefault("plugins.fleet.default_poll_interval", 30*time.Second)
	v.SetDefault("plugins.fleet.retry_delay", 5*time.Second)
	v.SetDefault("plugins.fleet.max_retries", 3)
	v.SetDefault("plugins.fleet.refresh_rate", 1.0)
	v.SetDefault("plugins.fleet.refresh_burst", 5)
	v.SetDefault("plugins.fleet.stats_ttl", 5*time.Minute)
	v.SetDefault("plugins.fleet.low_supply_percent", 20)
	v.SetDefault("plugins.fleet.critical_supply_percent", 5)

	v.SetDefault("plugins.history.enabled", true)
	v.SetDefault("plugins.history.retention", 30*24*time.Hour)

	v.SetDefault("plugins.discovery.enabled", false)
	v.SetDefault("plugins.discovery.interval", 5*time.Minute)

	v.SetDefault("plugins.mqtt.enabled", false)
	v.SetDefault("plugins.mqtt.topic_prefix", "printwatch")
	v.SetDefault("plugins.mqtt.qos", 1)
}

func (c *ViperConfig) GetString(key string) string          { return c.v.GetString(key) }
func (c *ViperConfig) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *ViperConfig) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *ViperConfig) GetFloat64(key string) float64        { return c.v.GetFloat64(key) }
func (c *ViperConfig) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }
func (c *ViperConfig) GetStringSlice(key string) []string   { return c.v.GetStringSlice(key) }
func (c *ViperConfig) IsSet(key string) bool                { return c.v.IsSet(key) }
func (c *ViperConfig) Unmarshal(target any) error           { return c.v.Unmarshal(target) }
func (c *ViperConfig) UnmarshalKey(key string, target any) error {
	return c.v.UnmarshalKey(key, target)
}

// Sub returns the subtree at key as its own Config. Unlike viper.Sub, the
// subtree keeps defaults and environment overrides of the parent. A missing
// key yields an empty Config, never nil.
func (c *ViperConfig) Sub(key string) plugin.Config {
	prefix := strings.ToLower(key) + "."
	sub := viper.New()
	for _, k := range c.v.AllKeys() {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			sub.Set(rest, c.v.Get(k))
		}
	}
	return New(sub)
}
