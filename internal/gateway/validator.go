package gateway

import (
	"encoding/json"
	"fmt"
)

// validatable is implemented by every inbound payload schema.
type validatable interface {
	Validate() error
}

// deviceSchemas maps device event types to their payload constructors.
// Any new device event needs an entry here before the hub will accept it.
var deviceSchemas = map[string]func() validatable{
	EventDeviceRegister:    func() validatable { return &RegisterPayload{} },
	EventDeviceHeartbeat:   func() validatable { return &HeartbeatPayload{} },
	EventDoorStatusChanged: func() validatable { return &DoorStatusPayload{} },
	EventSnapshotReady:     func() validatable { return &SnapshotReadyPayload{} },
	EventMotionDetected:    func() validatable { return &MotionPayload{} },
	EventLowBattery:        func() validatable { return &LowBatteryPayload{} },
	EventErrorOccurred:     func() validatable { return &DeviceErrorPayload{} },
	EventCommandAck:        func() validatable { return &CommandAckPayload{} },
}

// dashboardSchemas maps dashboard event types to their payload constructors.
var dashboardSchemas = map[string]func() validatable{
	EventSubscribeDevice:   func() validatable { return &SubscribePayload{} },
	EventUnsubscribeDevice: func() validatable { return &SubscribePayload{} },
	EventSendCommand:       func() validatable { return &SendCommandPayload{} },
	EventVisitorApproval:   func() validatable { return &VisitorApprovalPayload{} },
}

// ValidateDeviceEvent decodes and validates an inbound device event.
//
// Unknown JSON fields are silently dropped by the decode. A failure returns
// an error wrapping ErrValidation (or ErrUnknownEvent for types outside the
// schema set) and the event must be discarded, not the connection.
func ValidateDeviceEvent(eventType string, raw json.RawMessage) (any, error) {
	return validateEvent(deviceSchemas, eventType, raw)
}

// ValidateDashboardEvent decodes and validates an inbound dashboard event.
func ValidateDashboardEvent(eventType string, raw json.RawMessage) (any, error) {
	return validateEvent(dashboardSchemas, eventType, raw)
}

// ValidateAuthEvent decodes the handshake payload. Handshakes are validated
// separately because they are legal on both device and dashboard sockets.
func ValidateAuthEvent(raw json.RawMessage) (*AuthPayload, error) {
	payload := &AuthPayload{}
	if err := decodePayload(raw, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func validateEvent(schemas map[string]func() validatable, eventType string, raw json.RawMessage) (any, error) {
	newPayload, ok := schemas[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, eventType)
	}
	payload := newPayload()
	if err := decodePayload(raw, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func decodePayload(raw json.RawMessage, payload validatable) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, payload); err != nil {
			return fmt.Errorf("%w: malformed payload: %w", ErrValidation, err)
		}
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}
