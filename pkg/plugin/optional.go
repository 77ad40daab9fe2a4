package plugin

import "context"

// Health states reported in HealthStatus.Status.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HTTPProvider plugins contribute routes mounted under /api/v1/{name}.
type HTTPProvider interface {
	Routes() []Route
}

// HealthChecker plugins are polled by the health endpoint.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// EventSubscriber plugins declare bus subscriptions; the host wires them
// after every plugin has been initialized.
type EventSubscriber interface {
	Subscriptions() []Subscription
}

// Validator plugins check their decoded configuration.
type Validator interface {
	ValidateConfig() error
}

// HealthStatus is a plugin's self-reported health.
type HealthStatus struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}
