// Package mqtt provides MQTT client connectivity for Doorman Core.
//
// This package manages:
//   - A single persistent connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees and fail-fast on disconnect
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for gateway offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Doorman uses MQTT to reach hardware that never opens a WebSocket: the
// ESP32 door-lock actuators. The gateway publishes correlation envelopes
// on per-device control topics and subscribes to a shared response topic:
//
//	Doorman Core -> doorman/control/{espID} -> actuator firmware
//	actuator firmware -> doorman/response -> Doorman Core
//
// Correlation and demultiplexing of responses is the gateway package's
// job; this package is transport only.
//
// # Failure semantics
//
// There is no local publish queue. While the broker is unreachable every
// Publish returns ErrNotConnected immediately, and callers must surface
// the failure (a visitor approval whose unlock publish failed reports a
// hardware error instead of pretending the door opened).
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
//	err = client.Subscribe(topics.ResponseWildcard(), 1,
//	    func(topic string, payload []byte) error {
//	        // demux by correlation key
//	        return nil
//	    })
package mqtt
