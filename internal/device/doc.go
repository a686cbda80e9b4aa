// Package device manages the inventory of ESP32 field hardware: door locks,
// cameras, and motion sensors.
//
// # Architecture
//
// The package is layered:
//
//	Registry   — cached, thread-safe device management (the main entry point)
//	Repository — persistence interface with a SQLite implementation
//
// The Registry holds deep copies of every device in memory so the hot paths
// (WebSocket authentication, heartbeat touches, status lookups on every bridge
// message) never hit the database. Writes go through the repository first,
// then update the cache.
//
// # Provisioning
//
// Devices are born inactive with a one-time activation token, printed as a QR
// code during installation. Firmware exchanges the activation token for a
// permanent device token over REST; only the token's hash is stored. From
// then on the device authenticates its WebSocket connection with that token.
//
// # Status
//
// Status tracks connectivity (online, offline, maintenance) and is driven by
// the connection hub: online on authenticated connect, offline on disconnect.
// Maintenance is set manually from the dashboard and suppresses offline
// alerting while a device is being serviced.
package device
