package mqttbridge

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// publisher is the subset of an MQTT client the bridge needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	IsConnected() bool
	Disconnect()
}

// pahoClient adapts a paho client to publisher.
type pahoClient struct {
	client  mqtt.Client
	timeout time.Duration
}

// dialPaho connects to the configured broker. The bridge state topic is
// set as the last will so subscribers see "offline" if the process dies.
func dialPaho(cfg Config) (publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetWill(cfg.stateTopic(), stateOffline, cfg.qos(), true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect to MQTT broker %s: timed out after %s", cfg.Broker, cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, err)
	}
	return &pahoClient{client: client, timeout: cfg.Timeout}, nil
}

func (c *pahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("publish to %s: %w", topic, errPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (c *pahoClient) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *pahoClient) Disconnect() {
	c.client.Disconnect(250)
}

var errPublishTimeout = errors.New("timed out")
