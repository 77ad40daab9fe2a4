package fleet

import (
	"time"

	"github.com/HerbHall/printwatch/pkg/models"
)

// Event topics published by the fleet module.
const (
	TopicStatusChanged = "fleet.status.changed"
	TopicDeviceError   = "fleet.device.error"
)

// StatusEvent is the payload for TopicStatusChanged.
type StatusEvent struct {
	DeviceID  string              `json:"device_id"`
	Timestamp time.Time           `json:"timestamp"`
	Status    models.DeviceStatus `json:"status"`
}

// ErrorEvent is the payload for TopicDeviceError.
type ErrorEvent struct {
	DeviceID     string    `json:"device_id"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error"`
	Severity     string    `json:"severity"`
	FailureCount int       `json:"failure_count"`
}
