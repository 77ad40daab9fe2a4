package plugin

import "time"

// Config is the read-only configuration view handed to plugins.
type Config interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetFloat64(key string) float64
	GetDuration(key string) time.Duration
	GetStringSlice(key string) []string
	IsSet(key string) bool
	Sub(key string) Config
	Unmarshal(target any) error
	UnmarshalKey(key string, target any) error
}
