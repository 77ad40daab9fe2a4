package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/config"
	"github.com/HerbHall/printwatch/internal/fleet"
	"github.com/HerbHall/printwatch/internal/testutil"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes.
type fakeClient struct {
	mu           sync.Mutex
	messages     []message
	failWith     error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.messages = append(c.messages, message{topic, qos, retained, payload})
	return nil
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnected
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) sent() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.messages...)
}

func newTestModule(t *testing.T) (*Module, *fakeClient) {
	t.Helper()
	v := viper.New()
	v.Set("broker", "tcp://broker.local:1883")
	v.Set("topic_prefix", "office")

	fc := &fakeClient{}
	m := New()
	m.dial = func(Config) (publisher, error) { return fc, nil }
	if err := m.Init(context.Background(), plugin.Dependencies{Config: config.New(v), Logger: zap.NewNop()}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m, fc
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) { c.Broker = "tcp://b:1883" }, false},
		{"missing broker", func(*Config) {}, true},
		{"bad qos", func(c *Config) { c.Broker = "tcp://b:1883"; c.QoS = 3 }, true},
		{"wildcard prefix", func(c *Config) { c.Broker = "tcp://b:1883"; c.TopicPrefix = "a/#" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			tt.mutate(&m.cfg)
			if err := m.ValidateConfig(); (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStartPublishesBridgeState(t *testing.T) {
	_, fc := newTestModule(t)
	msgs := fc.sent()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].topic != "office/bridge/state" || string(msgs[0].payload) != "online" || !msgs[0].retained {
		t.Errorf("state message = %+v", msgs[0])
	}
}

func TestForwardsFleetEvents(t *testing.T) {
	m, fc := newTestModule(t)
	ctx := context.Background()

	m.handleStatusChanged(ctx, plugin.Event{Payload: &fleet.StatusEvent{
		DeviceID:  "floor2/copier",
		Timestamp: time.Now(),
		Status:    testutil.NewStatus("floor2/copier"),
	}})
	m.handleDeviceError(ctx, plugin.Event{Payload: &fleet.ErrorEvent{
		DeviceID: "p1", Error: "timeout", Severity: "high", FailureCount: 4,
	}})
	m.handleDeviceError(ctx, plugin.Event{Payload: "wrong"})

	msgs := fc.sent()[1:]
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].topic != "office/devices/floor2_copier/status" || !msgs[0].retained || msgs[0].qos != 1 {
		t.Errorf("status message = %+v", msgs[0])
	}
	var ev fleet.ErrorEvent
	if err := json.Unmarshal(msgs[1].payload, &ev); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if msgs[1].topic != "office/devices/p1/error" || msgs[1].retained || ev.Severity != "high" {
		t.Errorf("error message = %+v (%+v)", msgs[1], ev)
	}
}

func TestPublishFailureCounted(t *testing.T) {
	m, fc := newTestModule(t)
	fc.mu.Lock()
	fc.failWith = errors.New("broker gone")
	fc.mu.Unlock()

	m.handleDeviceError(context.Background(), plugin.Event{Payload: &fleet.ErrorEvent{DeviceID: "p1"}})

	h := m.Health(context.Background())
	if h.Details["failed"] != "1" {
		t.Errorf("failed = %q, want 1", h.Details["failed"])
	}
}

func TestStopDisconnects(t *testing.T) {
	m, fc := newTestModule(t)
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	msgs := fc.sent()
	if last := msgs[len(msgs)-1]; string(last.payload) != "offline" {
		t.Errorf("last message = %q, want offline", last.payload)
	}
	if !fc.disconnected {
		t.Error("client not disconnected")
	}
	if h := m.Health(context.Background()); h.Status != "degraded" {
		t.Errorf("Health after Stop = %q, want degraded", h.Status)
	}
	// Events after Stop are dropped.
	m.handleDeviceError(context.Background(), plugin.Event{Payload: &fleet.ErrorEvent{DeviceID: "p1"}})
}

func TestStartDialError(t *testing.T) {
	m := New()
	m.cfg.Broker = "tcp://nowhere:1883"
	m.logger = zap.NewNop()
	m.dial = func(Config) (publisher, error) { return nil, errors.New("connection refused") }
	if err := m.Start(context.Background()); err == nil {
		t.Error("Start succeeded with failing dial")
	}
}
