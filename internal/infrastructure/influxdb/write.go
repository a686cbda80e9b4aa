package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteHeartbeat writes device health telemetry from a heartbeat event.
//
// Battery and RSSI arrive on every heartbeat; uptime is the device's
// reported seconds since boot. The write is non-blocking and batched.
func (c *Client) WriteHeartbeat(espID, deviceType, room string, battery, rssi int, uptimeSecs int64) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := influxdb2.NewPointWithMeasurement("device_heartbeat").
		AddTag("esp_id", espID).
		AddTag("device_type", deviceType).
		AddTag("room", room).
		AddField("battery", battery).
		AddField("rssi", rssi).
		AddField("uptime_secs", uptimeSecs).
		SetTime(time.Now())

	c.writeAPI.WritePoint(point)

	return nil
}

// WriteDoorEvent records a door state transition for access auditing
// dashboards. State is the reported door state (locked, unlocked, open,
// closed); trigger identifies what caused it (command, visitor, manual).
func (c *Client) WriteDoorEvent(espID, room, state, trigger string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := influxdb2.NewPointWithMeasurement("door_event").
		AddTag("esp_id", espID).
		AddTag("room", room).
		AddTag("trigger", trigger).
		AddField("state", state).
		SetTime(time.Now())

	c.writeAPI.WritePoint(point)

	return nil
}

// WriteCommandLatency records the time between dispatching a command and
// receiving its terminal acknowledgement.
func (c *Client) WriteCommandLatency(espID, command, status string, latency time.Duration) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := influxdb2.NewPointWithMeasurement("command_latency").
		AddTag("esp_id", espID).
		AddTag("command", command).
		AddTag("status", status).
		AddField("latency_ms", latency.Milliseconds()).
		SetTime(time.Now())

	c.writeAPI.WritePoint(point)

	return nil
}

// WritePoint writes a custom point with arbitrary measurement, tags, and fields.
//
// For specialized metrics the helpers above don't cover.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) error {
	return c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if measurement == "" {
		return ErrInvalidMetric
	}
	if len(fields) == 0 {
		return ErrInvalidMetric
	}

	point := write.NewPoint(measurement, tags, fields, ts)
	c.writeAPI.WritePoint(point)

	return nil
}
