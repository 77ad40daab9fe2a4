package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidState is returned when a state string is not one of the known
// operational states.
var ErrInvalidState = errors.New("invalid operational state")

// OperationalState represents the current state of a printer.
type OperationalState string

const (
	StateOnline      OperationalState = "online"
	StateOffline     OperationalState = "offline"
	StateError       OperationalState = "error"
	StateMaintenance OperationalState = "maintenance"
)

// Valid reports whether s is one of the four known states.
func (s OperationalState) Valid() bool {
	switch s {
	case StateOnline, StateOffline, StateError, StateMaintenance:
		return true
	}
	return false
}

// ParseOperationalState converts a raw state string into an OperationalState.
func ParseOperationalState(raw string) (OperationalState, error) {
	s := OperationalState(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, raw)
	}
	return s, nil
}

// Supply is a consumable level reported by a printer (toner, drum, waste box).
type Supply struct {
	Name         string `json:"name"`
	LevelPercent int    `json:"level_percent"`
	ColorHint    string `json:"color_hint,omitempty"`
}

// JobSnapshot describes the most recently completed print job.
type JobSnapshot struct {
	Name        string    `json:"name"`
	CompletedAt time.Time `json:"completed_at"`
	Pages       int       `json:"pages"`
}

// Counters holds lifetime usage counters used for maintenance prediction.
type Counters struct {
	TotalPages int64 `json:"total_pages"`
	JamCount   int64 `json:"jam_count"`
}

// DeviceStatus is a snapshot of one printer at one point in time.
type DeviceStatus struct {
	ID           string           `json:"id"`
	DisplayName  string           `json:"display_name"`
	Location     string           `json:"location,omitempty"`
	Model        string           `json:"model,omitempty"`
	State        OperationalState `json:"state"`
	Supplies     []Supply         `json:"supplies"`
	LastJob      *JobSnapshot     `json:"last_job,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Counters     Counters         `json:"counters"`
	UpdatedAt    time.Time        `json:"updated_at"`
	// Stale is set when polling has given up on the device for the current
	// cycle. The remaining fields are the last known data.
	Stale bool `json:"stale"`
}

// Normalize clamps supply levels to [0,100] and drops an error message that
// does not belong to the state.
func (d *DeviceStatus) Normalize() {
	for i := range d.Supplies {
		d.Supplies[i].LevelPercent = ClampPercent(d.Supplies[i].LevelPercent)
	}
	if d.State != StateError && !d.Stale {
		d.ErrorMessage = ""
	}
}

// Clone returns a deep copy of the status.
func (d DeviceStatus) Clone() DeviceStatus {
	out := d
	if d.Supplies != nil {
		out.Supplies = make([]Supply, len(d.Supplies))
		copy(out.Supplies, d.Supplies)
	}
	if d.LastJob != nil {
		job := *d.LastJob
		out.LastJob = &job
	}
	return out
}

// ClampPercent bounds v to the [0,100] range.
func ClampPercent(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
