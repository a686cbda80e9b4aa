package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
// Wrap with fmt.Errorf("%w: detail", Err...) to add context.
var (
	// ErrDisabled indicates telemetry is turned off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrNotConnected indicates an operation was attempted while disconnected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection could not be established.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed indicates a metric write was rejected by the server.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrInvalidMetric indicates a malformed metric (empty measurement or no fields).
	ErrInvalidMetric = errors.New("influxdb: invalid metric")
)
