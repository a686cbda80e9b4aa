package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (256KB).
// Control envelopes and acknowledgments are tiny; anything near this
// limit indicates a bug or an abusive publisher.
const maxPayloadSize = 256 << 10

// Publish sends a message to an MQTT topic.
//
// Publishes fail fast with ErrNotConnected while the broker is
// unreachable. There is no local queue: a lost unlock command must be
// surfaced to the caller, never silently retried from a buffer whose
// contents may be minutes old.
//
// Control envelopes use QoS 1; the correlation key makes duplicate
// deliveries harmless.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return waitToken(c.client.Publish(topic, qos, retained, payload), defaultPublishTimeout, ErrPublishFailed)
}

// PublishString publishes a string payload.
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}
