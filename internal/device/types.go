package device

import "time"

// Device represents a piece of ESP32 field hardware known to the gateway.
type Device struct {
	// Identity
	ID    string `json:"id"`
	ESPID string `json:"esp_id"` // hardware identifier, used in MQTT topics
	Name  string `json:"name"`
	Room  string `json:"room,omitempty"`

	// Classification
	Type DeviceType `json:"type"`

	// Credentials (hashes only, raw tokens are never stored)
	TokenHash       string `json:"-"`
	ActivationToken string `json:"-"` // one-time provisioning token, cleared on activation
	Active          bool   `json:"active"`

	// Connectivity
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Latest reported health readings (from heartbeats)
	Battery *int `json:"battery,omitempty"`
	RSSI    *int `json:"rssi,omitempty"`

	// Config holds device-specific settings as a JSON map.
	// Example for a door lock: {"unlock_duration_secs": 5, "auto_relock": true}
	Config Config `json:"config,omitempty"`

	// Metadata
	FirmwareVersion *string `json:"firmware_version,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Device.
// Map fields are cloned so modifications to the copy do not affect the
// original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // shallow copy of value fields

	cpy.Config = deepCopyMap(d.Config)

	// Pointer fields to immutable values (*string, *int, *time.Time) are
	// re-pointed so callers mutating through them don't touch the cache.
	if d.LastSeen != nil {
		t := *d.LastSeen
		cpy.LastSeen = &t
	}
	if d.Battery != nil {
		b := *d.Battery
		cpy.Battery = &b
	}
	if d.RSSI != nil {
		r := *d.RSSI
		cpy.RSSI = &r
	}
	if d.FirmwareVersion != nil {
		f := *d.FirmwareVersion
		cpy.FirmwareVersion = &f
	}

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}

// Config holds device-specific configuration as a JSON map.
type Config map[string]any

// DeviceType represents the specific kind of field hardware.
type DeviceType string //nolint:revive // device.DeviceType is clearer than device.Type in calling code

// Device type constants.
const (
	TypeDoorLock     DeviceType = "door_lock"
	TypeCamera       DeviceType = "esp32_cam"
	TypeMotionSensor DeviceType = "motion_sensor"
	TypeOther        DeviceType = "other"
)

// AllTypes returns all valid device type values.
func AllTypes() []DeviceType {
	return []DeviceType{TypeDoorLock, TypeCamera, TypeMotionSensor, TypeOther}
}

// Status represents the device connectivity state.
type Status string

// Status constants.
const (
	StatusOnline      Status = "online"
	StatusOffline     Status = "offline"
	StatusMaintenance Status = "maintenance"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{StatusOnline, StatusOffline, StatusMaintenance}
}
