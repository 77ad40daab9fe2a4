// Package source implements the status drivers that fetch a printer's
// current state: SNMP, a vendor HTTP API, ICMP reachability and a
// simulator for demos.
package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Driver names accepted in device configuration.
const (
	DriverSNMP      = "snmp"
	DriverHTTP      = "http"
	DriverICMP      = "icmp"
	DriverSimulated = "simulated"
)

// ErrUnknownTarget is returned when a device id has no configured target.
var ErrUnknownTarget = errors.New("no target configured for device")

// Target is one configured printer and how to reach it.
type Target struct {
	ID          string `mapstructure:"id" json:"id" validate:"required,max=128"`
	DisplayName string `mapstructure:"name" json:"name,omitempty"`
	Location    string `mapstructure:"location" json:"location,omitempty"`
	Model       string `mapstructure:"model" json:"model,omitempty"`
	Driver      string `mapstructure:"driver" json:"driver" validate:"required,oneof=snmp http icmp simulated"`
	// Address is a host for snmp/icmp and a base URL for http.
	Address   string `mapstructure:"address" json:"address,omitempty" validate:"required_unless=Driver simulated"`
	Community string `mapstructure:"community" json:"-"`
	APIKey    string `mapstructure:"api_key" json:"-"`
	// RemoteID is the printer id on the vendor API, defaulting to ID.
	RemoteID string        `mapstructure:"remote_id" json:"remote_id,omitempty"`
	Interval time.Duration `mapstructure:"interval" json:"interval,omitempty" validate:"gte=0"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout,omitempty" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a single target.
func (t Target) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("target %q: %w", t.ID, err)
	}
	if t.Driver == DriverHTTP {
		if err := validate.Var(t.Address, "url"); err != nil {
			return fmt.Errorf("target %q: address must be a URL for the http driver", t.ID)
		}
	}
	return nil
}

// ValidateTargets checks every target and rejects duplicate ids.
func ValidateTargets(targets []Target) error {
	seen := make(map[string]bool, len(targets))
	var errs []error
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("target %q: duplicate id", t.ID))
			continue
		}
		seen[t.ID] = true
	}
	return errors.Join(errs...)
}

func (t Target) timeout(def time.Duration) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return def
}

func (t Target) remoteID() string {
	if t.RemoteID != "" {
		return t.RemoteID
	}
	return t.ID
}
