// Package mqttbridge forwards fleet status and error events to an MQTT
// broker, one topic per device.
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/fleet"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

const (
	stateOnline  = "online"
	stateOffline = "offline"
)

// Config holds MQTT bridge settings.
type Config struct {
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         int           `mapstructure:"qos"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the default bridge configuration.
func DefaultConfig() Config {
	return Config{
		ClientID:    "printwatch",
		TopicPrefix: "printwatch",
		QoS:         1,
		Timeout:     5 * time.Second,
	}
}

func (c Config) qos() byte { return byte(c.QoS) }

func (c Config) stateTopic() string { return c.TopicPrefix + "/bridge/state" }

func (c Config) deviceTopic(deviceID, kind string) string {
	return c.TopicPrefix + "/devices/" + topicSafe(deviceID) + "/" + kind
}

// topicSafe replaces MQTT wildcard and level characters in a topic level.
func topicSafe(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// Module implements the MQTT bridge plugin.
type Module struct {
	logger *zap.Logger
	cfg    Config
	dial   func(Config) (publisher, error)

	mu        sync.RWMutex
	client    publisher
	published int
	failed    int
}

// New creates an MQTT bridge module.
func New() *Module {
	return &Module{cfg: DefaultConfig(), dial: dialPaho}
}

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.Validator       = (*Module)(nil)
)

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "mqtt",
		Version:      "0.1.0",
		Description:  "Forwards device events to an MQTT broker",
		Dependencies: []string{"fleet"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return err
		}
	}
	if m.cfg.Timeout <= 0 {
		m.cfg.Timeout = DefaultConfig().Timeout
	}
	return m.ValidateConfig()
}

// ValidateConfig implements plugin.Validator.
func (m *Module) ValidateConfig() error {
	var errs []error
	if m.cfg.Broker == "" {
		errs = append(errs, errors.New("mqtt: broker is required"))
	}
	if m.cfg.QoS < 0 || m.cfg.QoS > 2 {
		errs = append(errs, errors.New("mqtt: qos must be 0, 1 or 2"))
	}
	if m.cfg.TopicPrefix == "" || strings.ContainsAny(m.cfg.TopicPrefix, "+#") {
		errs = append(errs, errors.New("mqtt: topic_prefix must be non-empty and free of wildcards"))
	}
	return errors.Join(errs...)
}

func (m *Module) Start(_ context.Context) error {
	client, err := m.dial(m.cfg)
	if err != nil {
		return err
	}
	if err := client.Publish(m.cfg.stateTopic(), m.cfg.qos(), true, []byte(stateOnline)); err != nil {
		m.logger.Warn("failed to publish bridge state", zap.Error(err))
	}
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	m.logger.Info("mqtt bridge connected",
		zap.String("broker", m.cfg.Broker),
		zap.String("prefix", m.cfg.TopicPrefix),
	)
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()
	if client == nil {
		return nil
	}
	if err := client.Publish(m.cfg.stateTopic(), m.cfg.qos(), true, []byte(stateOffline)); err != nil {
		m.logger.Debug("failed to publish bridge state", zap.Error(err))
	}
	client.Disconnect()
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: fleet.TopicStatusChanged, Handler: m.handleStatusChanged},
		{Topic: fleet.TopicDeviceError, Handler: m.handleDeviceError},
	}
}

func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := plugin.HealthStatus{Status: plugin.StatusHealthy, Details: map[string]string{
		"broker":    m.cfg.Broker,
		"published": strconv.Itoa(m.published),
		"failed":    strconv.Itoa(m.failed),
	}}
	if m.client == nil || !m.client.IsConnected() {
		h.Status = plugin.StatusDegraded
		h.Message = "not connected to broker"
	}
	return h
}

// handleStatusChanged publishes the full status, retained, so new
// subscribers see the latest state immediately.
func (m *Module) handleStatusChanged(_ context.Context, event plugin.Event) {
	se, ok := event.Payload.(*fleet.StatusEvent)
	if !ok {
		m.logger.Warn("unexpected payload type for status changed event")
		return
	}
	m.forward(m.cfg.deviceTopic(se.DeviceID, "status"), true, se.Status)
}

func (m *Module) handleDeviceError(_ context.Context, event plugin.Event) {
	ee, ok := event.Payload.(*fleet.ErrorEvent)
	if !ok {
		m.logger.Warn("unexpected payload type for device error event")
		return
	}
	m.forward(m.cfg.deviceTopic(ee.DeviceID, "error"), false, ee)
}

func (m *Module) forward(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("failed to encode mqtt payload", zap.String("topic", topic), zap.Error(err))
		return
	}

	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return
	}

	err = client.Publish(topic, m.cfg.qos(), retained, payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failed++
		m.logger.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	m.published++
}
