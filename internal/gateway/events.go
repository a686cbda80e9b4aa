package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/carrick-labs/doorman-core/internal/command"
)

// Device to gateway event types.
const (
	EventDeviceRegister    = "device_register"
	EventDeviceHeartbeat   = "device_heartbeat"
	EventDoorStatusChanged = "door_status_changed"
	EventSnapshotReady     = "snapshot_ready"
	EventMotionDetected    = "motion_detected"
	EventLowBattery        = "low_battery"
	EventErrorOccurred     = "error_occurred"
	EventCommandAck        = "command_ack"
)

// Dashboard to gateway event types.
const (
	EventAuthenticate      = "authenticate"
	EventSubscribeDevice   = "subscribe_device"
	EventUnsubscribeDevice = "unsubscribe_device"
	EventSendCommand       = "send_command"
	EventVisitorApproval   = "visitor_approval"
)

// Gateway to dashboard event types.
const (
	EventDeviceConnected    = "device_connected"
	EventDeviceDisconnected = "device_disconnected"
	EventDeviceStatus       = "device_status"
	EventNewVisitor         = "new_visitor"
	EventVisitorProcessed   = "visitor_processed"
	EventCommandStatus      = "command_status"
	EventSystemAlert        = "system_alert"
)

// Gateway to device event types.
const (
	EventAccessGranted  = "access_granted"
	EventAccessDenied   = "access_denied"
	EventBackendCommand = "backend-command"
)

// Control frame types shared by both directions.
const (
	EventAuthSuccess = "auth_success"
	EventError       = "error"
)

// InboundMessage is the wire frame for client to gateway traffic. The
// payload stays raw until the validator decodes it against the schema for
// the declared type.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is the wire frame for gateway to client traffic.
type Message struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// NewMessage builds an outbound frame with the current timestamp.
func NewMessage(eventType string, payload any) Message {
	return Message{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}

// AuthPayload is the handshake payload, the mandatory first message on
// every connection.
type AuthPayload struct {
	ClientType  string `json:"clientType"`
	DeviceID    string `json:"deviceId,omitempty"`
	DeviceToken string `json:"deviceToken,omitempty"`
	Token       string `json:"token,omitempty"`
}

// Client roles carried in the handshake.
const (
	ClientTypeDevice    = "device"
	ClientTypeDashboard = "dashboard"
)

func (p *AuthPayload) Validate() error {
	switch p.ClientType {
	case ClientTypeDevice:
		if p.DeviceID == "" {
			return fmt.Errorf("deviceId is required for device clients")
		}
		if p.DeviceToken == "" {
			return fmt.Errorf("deviceToken is required for device clients")
		}
	case ClientTypeDashboard:
		if p.Token == "" {
			return fmt.Errorf("token is required for dashboard clients")
		}
	default:
		return fmt.Errorf("clientType must be %q or %q", ClientTypeDevice, ClientTypeDashboard)
	}
	return nil
}

// RegisterPayload lets a device re-announce its metadata after connecting.
// Registration itself happens over REST; this only refreshes mutable fields.
type RegisterPayload struct {
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
	Room            string `json:"room,omitempty"`
}

func (p *RegisterPayload) Validate() error {
	if len(p.FirmwareVersion) > 64 {
		return fmt.Errorf("firmwareVersion exceeds 64 characters")
	}
	if len(p.Room) > 100 {
		return fmt.Errorf("room exceeds 100 characters")
	}
	return nil
}

// HeartbeatPayload carries periodic device health telemetry.
type HeartbeatPayload struct {
	Battery    int   `json:"battery"`
	RSSI       int   `json:"rssi"`
	UptimeSecs int64 `json:"uptimeSecs,omitempty"`
}

func (p *HeartbeatPayload) Validate() error {
	if p.Battery < 0 || p.Battery > 100 {
		return fmt.Errorf("battery must be between 0 and 100, got %d", p.Battery)
	}
	if p.RSSI > 0 || p.RSSI < -120 {
		return fmt.Errorf("rssi must be between -120 and 0, got %d", p.RSSI)
	}
	if p.UptimeSecs < 0 {
		return fmt.Errorf("uptimeSecs cannot be negative")
	}
	return nil
}

// Door states a lock or contact sensor may report.
const (
	DoorStateLocked   = "locked"
	DoorStateUnlocked = "unlocked"
	DoorStateOpen     = "open"
	DoorStateClosed   = "closed"
	DoorStateJammed   = "jammed"
)

// DoorStatusPayload reports a physical door state transition.
type DoorStatusPayload struct {
	State   string `json:"state"`
	Trigger string `json:"trigger,omitempty"`
}

func (p *DoorStatusPayload) Validate() error {
	switch p.State {
	case DoorStateLocked, DoorStateUnlocked, DoorStateOpen, DoorStateClosed, DoorStateJammed:
	default:
		return fmt.Errorf("state %q is not a recognised door state", p.State)
	}
	if len(p.Trigger) > 64 {
		return fmt.Errorf("trigger exceeds 64 characters")
	}
	return nil
}

// SnapshotReadyPayload announces an uploaded visitor snapshot. The gateway
// opens a pending visitor log from it.
type SnapshotReadyPayload struct {
	URL       string `json:"url"`
	DoorESPID string `json:"doorEspId,omitempty"`
}

func (p *SnapshotReadyPayload) Validate() error {
	if p.URL == "" {
		return fmt.Errorf("url is required")
	}
	if len(p.URL) > 2048 {
		return fmt.Errorf("url exceeds 2048 characters")
	}
	return nil
}

// MotionPayload reports motion detection with an optional confidence score.
type MotionPayload struct {
	Confidence int `json:"confidence"`
}

func (p *MotionPayload) Validate() error {
	if p.Confidence < 0 || p.Confidence > 100 {
		return fmt.Errorf("confidence must be between 0 and 100, got %d", p.Confidence)
	}
	return nil
}

// LowBatteryPayload warns that a device battery dropped below its threshold.
type LowBatteryPayload struct {
	Battery int `json:"battery"`
}

func (p *LowBatteryPayload) Validate() error {
	if p.Battery < 0 || p.Battery > 100 {
		return fmt.Errorf("battery must be between 0 and 100, got %d", p.Battery)
	}
	return nil
}

// DeviceErrorPayload reports a firmware-side fault.
type DeviceErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *DeviceErrorPayload) Validate() error {
	if p.Message == "" {
		return fmt.Errorf("message is required")
	}
	if len(p.Code) > 64 {
		return fmt.Errorf("code exceeds 64 characters")
	}
	if len(p.Message) > 1024 {
		return fmt.Errorf("message exceeds 1024 characters")
	}
	return nil
}

// CommandAckPayload acknowledges a dispatched command over the socket path.
type CommandAckPayload struct {
	CommandID string `json:"commandId"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

func (p *CommandAckPayload) Validate() error {
	if p.CommandID == "" {
		return fmt.Errorf("commandId is required")
	}
	if p.Status == "" {
		return fmt.Errorf("status is required")
	}
	if len(p.Detail) > 1024 {
		return fmt.Errorf("detail exceeds 1024 characters")
	}
	return nil
}

// SubscribePayload names the device a dashboard wants events for. The same
// schema serves subscribe_device and unsubscribe_device.
type SubscribePayload struct {
	DeviceID string `json:"deviceId"`
}

func (p *SubscribePayload) Validate() error {
	if p.DeviceID == "" {
		return fmt.Errorf("deviceId is required")
	}
	return nil
}

// SendCommandPayload carries a dashboard-issued device command.
type SendCommandPayload struct {
	DeviceID string         `json:"deviceId"`
	Command  string         `json:"command"`
	Payload  map[string]any `json:"payload,omitempty"`
}

func (p *SendCommandPayload) Validate() error {
	if p.DeviceID == "" {
		return fmt.Errorf("deviceId is required")
	}
	if err := command.ValidateName(p.Command); err != nil {
		return fmt.Errorf("unknown command %q", p.Command)
	}
	return nil
}

// Visitor decisions accepted over the socket path.
const (
	DecisionGrant = "grant"
	DecisionDeny  = "deny"
)

// VisitorApprovalPayload carries a dashboard decision on a pending visitor.
type VisitorApprovalPayload struct {
	VisitorID string `json:"visitorId"`
	Decision  string `json:"decision"`
	Note      string `json:"note,omitempty"`
}

func (p *VisitorApprovalPayload) Validate() error {
	if p.VisitorID == "" {
		return fmt.Errorf("visitorId is required")
	}
	if p.Decision != DecisionGrant && p.Decision != DecisionDeny {
		return fmt.Errorf("decision must be %q or %q, got %q", DecisionGrant, DecisionDeny, p.Decision)
	}
	if len(p.Note) > 500 {
		return fmt.Errorf("note exceeds 500 characters")
	}
	return nil
}

// ErrorPayload is the body of an outbound error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}
