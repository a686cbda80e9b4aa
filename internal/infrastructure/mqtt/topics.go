package mqtt

import "fmt"

// DefaultTopicPrefix is the root of the Doorman topic hierarchy when no
// prefix is configured.
const DefaultTopicPrefix = "doorman"

// Topics builds Doorman MQTT topic names. Using these helpers keeps topic
// naming consistent between the gateway and device firmware.
//
// Topic scheme:
//
//	{prefix}/control/{espID}   gateway -> actuator commands (QoS 1, not retained)
//	{prefix}/response          actuator -> gateway acknowledgments
//	{prefix}/system/status     gateway online/offline status (retained, LWT)
type Topics struct {
	// Prefix overrides DefaultTopicPrefix when non-empty.
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix != "" {
		return t.Prefix
	}
	return DefaultTopicPrefix
}

// Control returns the control topic for a specific actuator, identified by
// its hardware id (espID). The gateway publishes lock/unlock envelopes here.
func (t Topics) Control(espID string) string {
	return fmt.Sprintf("%s/control/%s", t.prefix(), espID)
}

// Response returns the shared response topic actuators publish
// acknowledgments to.
func (t Topics) Response() string {
	return t.prefix() + "/response"
}

// ResponseWildcard returns the subscription pattern covering the response
// topic and any per-device subtopics firmware may use.
func (t Topics) ResponseWildcard() string {
	return t.prefix() + "/response/#"
}

// SystemStatus returns the retained gateway status topic. The broker
// publishes the LWT here if the gateway disconnects unexpectedly.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}
