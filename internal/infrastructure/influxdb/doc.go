// Package influxdb provides time-series telemetry storage for device health
// and access metrics.
//
// # Purpose
//
// Doorman devices report battery level, Wi-Fi signal strength, and uptime on
// every heartbeat. This package streams those readings, plus door state
// transitions and command round-trip latencies, to an InfluxDB v2 instance
// for dashboarding and battery-replacement planning.
//
// # Write Semantics
//
// Writes are non-blocking: points are buffered and flushed in batches on a
// timer. A write call returning nil means the point was accepted into the
// buffer, not that it reached the server. Server-side failures are delivered
// asynchronously through the SetOnError callback.
//
// Telemetry is optional. When disabled in configuration, Connect returns
// ErrDisabled and callers run without a client.
package influxdb
