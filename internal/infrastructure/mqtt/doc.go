// Package mqtt provides MQTT client connectivity for Shade Core.
//
// This package manages:
//   - One broker session per Connect call, with a randomised client ID
//   - Fire-and-forget message publishing
//   - Topic subscriptions with wildcard support
//   - Topic builders for a configurable actuator namespace
//
// # Reconnection
//
// Paho's automatic reconnect is disabled. A lost session invokes the
// connection-lost callback once, and the owner dials a new Client after its
// own fixed delay. Subscriptions are not carried across sessions.
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.Shade.Namespace, cfg.Shade.SensorRoot)
//	client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.SessionClientID(cfg.MQTT.Broker.ClientID), onLost)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllActuator(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	client.PublishAsync(topics.Set(), []byte("50"), 1, false)
package mqtt
