// Package gateway implements the real-time WebSocket layer of Doorman.
//
// The Hub is the connection registry: it tracks every live socket, its
// authenticated identity and its role (device or dashboard). A device holds
// at most one authoritative connection; a newer connection for the same
// device supersedes the older one. Dashboards carry a per-connection set of
// device subscriptions, which is the sole routing key for event fan-out.
//
// Every connection must authenticate with its first message, within a
// configurable deadline. Devices present {deviceId, deviceToken}; dashboards
// present a JWT. A failed or missing handshake closes the connection and
// never registers it.
//
// Inbound events pass through the validator (events.go, validator.go):
// a closed set of event types per role, each with a typed payload schema.
// A validation failure is reported back on the same socket and the event is
// discarded; the connection stays open.
//
// The MQTT bridge (bridge.go) carries commands that must reach hardware even
// when the device has no live socket, and demultiplexes the shared response
// topic back to the command dispatcher or the visitor engine by correlation
// key. Responses that match nothing are logged and dropped.
//
// Fan-out is best effort and independent per connection: each client has a
// buffered send channel, and a slow client skips messages rather than
// blocking the rest.
package gateway
