package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/carrick-labs/doorman-core/internal/auth"
	"github.com/carrick-labs/doorman-core/internal/command"
	"github.com/carrick-labs/doorman-core/internal/visitor"
)

// handleMessage routes one inbound frame. Validation failures are reported
// on the same socket and the frame is dropped; only a failed handshake
// closes the connection.
func (c *Client) handleMessage(data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid JSON message")
		return
	}

	if !c.authenticated.Load() {
		if msg.Type != EventAuthenticate {
			c.sendError(ErrNotAuthenticated.Error())
			c.close()
			return
		}
		c.handleAuthenticate(msg.Payload)
		return
	}

	switch c.role {
	case ClientTypeDevice:
		c.handleDeviceEvent(msg)
	case ClientTypeDashboard:
		c.handleDashboardEvent(msg)
	}
}

// handleAuthenticate performs the handshake. Any failure closes the
// connection without registering it.
func (c *Client) handleAuthenticate(raw json.RawMessage) {
	payload, err := ValidateAuthEvent(raw)
	if err != nil {
		c.sendError(err.Error())
		c.close()
		return
	}

	ctx := context.Background()
	switch payload.ClientType {
	case ClientTypeDevice:
		// deviceId on the wire is the hardware id flashed at provisioning.
		dev, err := c.hub.devices.Authenticate(ctx, payload.DeviceID, payload.DeviceToken)
		if err != nil {
			c.hub.logger.Warn("device authentication failed", "esp_id", payload.DeviceID, "error", err)
			c.sendError(ErrAuthFailed.Error())
			c.close()
			return
		}
		c.role = ClientTypeDevice
		c.deviceID = dev.ID
		c.espID = dev.ESPID
		c.deviceType = string(dev.Type)
		c.room = dev.Room
		c.authenticated.Store(true)
		c.authTimer.Stop()
		if err := c.hub.registerDevice(c); err != nil {
			c.sendError(err.Error())
			c.close()
			return
		}
		c.sendMessage(NewMessage(EventAuthSuccess, map[string]any{
			"deviceId": dev.ID,
			"espId":    dev.ESPID,
		}))

	case ClientTypeDashboard:
		claims, err := auth.ParseToken(payload.Token, c.hub.jwtSecret)
		if err != nil {
			c.hub.logger.Warn("dashboard authentication failed", "error", err)
			c.sendError(ErrAuthFailed.Error())
			c.close()
			return
		}
		c.role = ClientTypeDashboard
		c.userID = claims.Subject
		c.userRole = claims.Role
		c.authenticated.Store(true)
		c.authTimer.Stop()
		if err := c.hub.registerDashboard(c); err != nil {
			c.sendError(err.Error())
			c.close()
			return
		}
		c.sendMessage(NewMessage(EventAuthSuccess, map[string]any{
			"userId": claims.Subject,
			"role":   claims.Role,
		}))
	}
}

// handleDeviceEvent validates and applies one firmware event.
func (c *Client) handleDeviceEvent(msg InboundMessage) {
	payload, err := ValidateDeviceEvent(msg.Type, msg.Payload)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	ctx := context.Background()
	switch p := payload.(type) {
	case *RegisterPayload:
		c.handleRegister(ctx, p)
	case *HeartbeatPayload:
		c.handleHeartbeat(ctx, p)
	case *DoorStatusPayload:
		c.handleDoorStatus(p)
	case *SnapshotReadyPayload:
		c.handleSnapshotReady(ctx, p)
	case *MotionPayload:
		c.hub.BroadcastToDevice(c.deviceID, NewMessage(EventDeviceStatus, map[string]any{
			"deviceId":   c.deviceID,
			"motion":     true,
			"confidence": p.Confidence,
		}))
	case *LowBatteryPayload:
		c.hub.BroadcastToDevice(c.deviceID, NewMessage(EventSystemAlert, map[string]any{
			"message":  "device battery low",
			"deviceId": c.deviceID,
			"battery":  p.Battery,
		}))
	case *DeviceErrorPayload:
		c.hub.logger.Warn("device reported error", "device_id", c.deviceID, "code", p.Code, "message", p.Message)
		c.hub.BroadcastToDevice(c.deviceID, NewMessage(EventSystemAlert, map[string]any{
			"message":  p.Message,
			"code":     p.Code,
			"deviceId": c.deviceID,
		}))
	case *CommandAckPayload:
		c.handleCommandAck(p)
	}
}

func (c *Client) handleRegister(ctx context.Context, p *RegisterPayload) {
	dev, err := c.hub.devices.GetByESPID(ctx, c.espID)
	if err != nil {
		c.hub.logger.Warn("register for unknown device", "esp_id", c.espID, "error", err)
		return
	}
	if p.Room != "" {
		dev.Room = p.Room
		c.room = p.Room
	}
	if p.FirmwareVersion != "" {
		fw := p.FirmwareVersion
		dev.FirmwareVersion = &fw
	}
	if err := c.hub.devices.Update(ctx, dev); err != nil {
		c.hub.logger.Warn("device re-announce update failed", "device_id", dev.ID, "error", err)
	}
}

func (c *Client) handleHeartbeat(ctx context.Context, p *HeartbeatPayload) {
	if err := c.hub.devices.RecordHeartbeat(ctx, c.deviceID, p.Battery, p.RSSI); err != nil {
		c.hub.logger.Warn("heartbeat record failed", "device_id", c.deviceID, "error", err)
	}
	if c.hub.metrics != nil {
		if err := c.hub.metrics.WriteHeartbeat(c.espID, c.deviceType, c.room, p.Battery, p.RSSI, p.UptimeSecs); err != nil {
			c.hub.logger.Debug("heartbeat metric write failed", "esp_id", c.espID, "error", err)
		}
	}
}

func (c *Client) handleDoorStatus(p *DoorStatusPayload) {
	c.hub.BroadcastToDevice(c.deviceID, NewMessage(EventDeviceStatus, map[string]any{
		"deviceId": c.deviceID,
		"state":    p.State,
		"trigger":  p.Trigger,
	}))
	if c.hub.metrics != nil {
		if err := c.hub.metrics.WriteDoorEvent(c.espID, c.room, p.State, p.Trigger); err != nil {
			c.hub.logger.Debug("door metric write failed", "esp_id", c.espID, "error", err)
		}
	}
}

func (c *Client) handleSnapshotReady(ctx context.Context, p *SnapshotReadyPayload) {
	log, err := c.hub.visitors.Create(ctx, visitor.CreateRequest{
		CameraID:    c.deviceID,
		CameraESPID: c.espID,
		DoorESPID:   p.DoorESPID,
		SnapshotURL: p.URL,
	})
	if err != nil {
		c.hub.logger.Error("visitor log creation failed", "camera_id", c.deviceID, "error", err)
		c.sendError("snapshot could not be recorded")
		return
	}
	c.hub.logger.Info("visitor pending", "log_id", log.ID, "camera_id", c.deviceID)
}

// handleCommandAck resolves a command acknowledged over the socket path.
// Unknown and already-resolved command ids are expected under duplicate
// delivery and dropped quietly.
func (c *Client) handleCommandAck(p *CommandAckPayload) {
	err := c.hub.commands.Resolve(p.CommandID, command.Status(p.Status), p.Detail)
	switch {
	case err == nil:
	case errors.Is(err, command.ErrNotFound), errors.Is(err, command.ErrAlreadyResolved):
		c.hub.logger.Debug("stale command ack dropped", "command_id", p.CommandID)
	default:
		c.sendError(err.Error())
	}
}

// handleDashboardEvent validates and applies one dashboard event.
func (c *Client) handleDashboardEvent(msg InboundMessage) {
	payload, err := ValidateDashboardEvent(msg.Type, msg.Payload)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	ctx := context.Background()
	switch p := payload.(type) {
	case *SubscribePayload:
		if msg.Type == EventSubscribeDevice {
			c.subscribe(p.DeviceID)
		} else {
			c.unsubscribe(p.DeviceID)
		}
		c.sendMessage(NewMessage(msg.Type, map[string]any{"deviceId": p.DeviceID}))
	case *SendCommandPayload:
		c.handleSendCommand(ctx, p)
	case *VisitorApprovalPayload:
		c.handleVisitorApproval(ctx, p)
	}
}

func (c *Client) handleSendCommand(ctx context.Context, p *SendCommandPayload) {
	if !c.userRole.CanDecideVisitors() {
		c.sendError(ErrForbidden.Error())
		return
	}

	dev, err := c.hub.devices.Get(ctx, p.DeviceID)
	if err != nil {
		c.sendError("unknown device: " + p.DeviceID)
		return
	}

	cmd, err := c.hub.commands.Dispatch(ctx, command.Request{
		DeviceID: dev.ID,
		ESPID:    dev.ESPID,
		Name:     p.Command,
		Params:   p.Payload,
		IssuedBy: c.userID,
	})
	if err != nil {
		// A bridge failure still yields a tracked failed command; the
		// issuer gets the terminal status through the notifier, so only
		// rejections without a command need an error frame here.
		if cmd == nil {
			c.sendError(err.Error())
		}
		return
	}
	c.sendMessage(NewMessage(EventCommandStatus, cmd))
}

// handleVisitorApproval funnels the socket decision path through the same
// engine call the REST path uses. Deciding an already-terminal log is a
// no-op that returns the existing terminal state.
func (c *Client) handleVisitorApproval(ctx context.Context, p *VisitorApprovalPayload) {
	if !c.userRole.CanDecideVisitors() {
		c.sendError(ErrForbidden.Error())
		return
	}

	decision := visitor.StatusDenied
	if p.Decision == DecisionGrant {
		decision = visitor.StatusGranted
	}

	log, err := c.hub.visitors.Decide(ctx, p.VisitorID, decision, c.userID, p.Note)
	switch {
	case err == nil:
		c.sendMessage(NewMessage(EventVisitorProcessed, log))
	case errors.Is(err, visitor.ErrAlreadyDecided):
		existing, getErr := c.hub.visitors.Get(ctx, p.VisitorID)
		if getErr != nil {
			c.sendError(getErr.Error())
			return
		}
		c.sendMessage(NewMessage(EventVisitorProcessed, existing))
	default:
		c.sendError(err.Error())
	}
}
