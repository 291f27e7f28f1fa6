package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/shade-core/internal/infrastructure/config"
	"github.com/nerrad567/shade-core/internal/infrastructure/logging"
	"github.com/nerrad567/shade-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/shade-core/internal/shade"
)

// mqttDialer opens a fresh broker session for every reconciler connection
// attempt. Automatic reconnection stays off in the client; the reconciler
// owns the retry cadence.
type mqttDialer struct {
	cfg config.MQTTConfig
	log *logging.Logger
}

func newMQTTDialer(cfg config.MQTTConfig, log *logging.Logger) *mqttDialer {
	return &mqttDialer{cfg: cfg, log: log}
}

// Dial implements shade.Dialer.
func (d *mqttDialer) Dial(ctx context.Context, onConnectionLost func(err error)) (shade.Channel, error) {
	clientID := mqtt.SessionClientID(d.cfg.Broker.ClientID)
	client, err := mqtt.Connect(ctx, d.cfg, clientID, onConnectionLost)
	if err != nil {
		return nil, err
	}
	client.SetLogger(d.log)
	if err := client.HealthCheck(ctx); err != nil {
		client.Close() //nolint:errcheck // Session is being discarded
		return nil, err
	}

	d.log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", d.cfg.Broker.Host, d.cfg.Broker.Port),
		"client_id", clientID,
	)
	return &mqttChannel{client: client}, nil
}

// mqttChannel adapts the infrastructure MQTT client to shade.Channel. The
// primary difference is the Subscribe handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - shade.Channel expects: func(topic, payload []byte)
type mqttChannel struct {
	client *mqtt.Client
}

// Subscribe implements shade.Channel.
func (c *mqttChannel) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return mapMQTTError(c.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	}))
}

// Publish implements shade.Channel. Delivery is awaited in the background
// so the reconciler loop never blocks on the broker.
func (c *mqttChannel) Publish(topic string, payload []byte, qos byte) error {
	return mapMQTTError(c.client.PublishAsync(topic, payload, qos, false))
}

// IsConnected implements shade.Channel.
func (c *mqttChannel) IsConnected() bool {
	return c.client.IsConnected()
}

// Close implements shade.Channel.
func (c *mqttChannel) Close() error {
	return c.client.Close()
}

func mapMQTTError(err error) error {
	if errors.Is(err, mqtt.ErrNotConnected) {
		return fmt.Errorf("%w: %w", shade.ErrNotConnected, err)
	}
	return err
}
