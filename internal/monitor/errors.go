package monitor

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the Monitor.
var (
	ErrUnknownDevice = errors.New("device not monitored")
	ErrInvalidDevice = errors.New("invalid device id")
	ErrClosed        = errors.New("monitor closed")
)

// FetchError wraps any failure to obtain a device's status from its source.
// Timeouts, transport, parse and auth problems are all reported this way.
type FetchError struct {
	DeviceID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch status for %q: %v", e.DeviceID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func asFetchError(deviceID string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{DeviceID: deviceID, Err: err}
}
