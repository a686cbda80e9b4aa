package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carrick-labs/doorman-core/internal/command"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/logging"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/mqtt"
)

// Publisher is the slice of the MQTT client the bridge needs. Satisfied by
// *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// commandResolver resolves command acknowledgments. Satisfied by
// *command.Dispatcher.
type commandResolver interface {
	Resolve(commandID string, status command.Status, detail string) error
}

// unlockResolver records the hardware outcome of a visitor unlock.
// Satisfied by *visitor.Engine.
type unlockResolver interface {
	ResolveUnlock(ctx context.Context, logID string, ok bool, detail string) error
}

// controlQoS is used for all control publishes. At-least-once delivery is
// required for lock actuation; the correlation key makes duplicates
// harmless.
const controlQoS = 1

// hardwareOnly lists commands that always go over MQTT even when the
// target holds a live socket. Physical lock actuation must not depend on
// the WebSocket path.
var hardwareOnly = map[string]bool{
	command.NameLockDoor:   true,
	command.NameUnlockDoor: true,
}

// Bridge connects the gateway to device hardware over MQTT. Outbound, it
// carries command envelopes on per-device control topics, preferring a live
// socket for non-hardware commands. Inbound, it demultiplexes the shared
// response topic back to the command dispatcher or the visitor engine by
// correlation key.
type Bridge struct {
	pub      Publisher
	topics   mqtt.Topics
	hub      *Hub
	commands commandResolver
	visitors unlockResolver
	logger   *logging.Logger
}

// NewBridge creates the bridge. hub may be nil, which forces every command
// over MQTT.
func NewBridge(pub Publisher, topics mqtt.Topics, hub *Hub, commands commandResolver, visitors unlockResolver, logger *logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bridge{
		pub:      pub,
		topics:   topics,
		hub:      hub,
		commands: commands,
		visitors: visitors,
		logger:   logger,
	}
}

// SetCommands sets the command resolver. The dispatcher publishes through
// the bridge, so one side is wired after construction.
func (b *Bridge) SetCommands(c commandResolver) {
	b.commands = c
}

// Start subscribes to the response topic.
func (b *Bridge) Start() error {
	return b.pub.Subscribe(b.topics.ResponseWildcard(), controlQoS, b.handleResponse)
}

// SendCommand routes a dispatcher envelope to the target device. Implements
// command.Bridge.
//
// Hardware-only commands and commands for devices without a live socket go
// over MQTT; everything else is delivered on the socket directly.
func (b *Bridge) SendCommand(espID string, payload []byte) error {
	var env struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("malformed command envelope: %w", err)
	}

	if !hardwareOnly[env.Command] && b.hub != nil && b.hub.ESPOnline(espID) {
		if err := b.hub.SendToESP(espID, Message{
			Type:      EventBackendCommand,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Payload:   json.RawMessage(payload),
		}); err == nil {
			b.logger.Debug("command routed over socket", "esp_id", espID, "command", env.Command)
			return nil
		}
		// Socket vanished between the check and the send, fall back.
	}

	return b.pub.Publish(b.topics.Control(espID), payload, controlQoS, false)
}

// unlockEnvelope is the control message for a visitor-correlated unlock.
type unlockEnvelope struct {
	Command   string `json:"command"`
	LogID     string `json:"logId"`
	DecidedBy string `json:"decidedBy,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// UnlockDoor publishes a door open command correlated to a visitor log.
// Implements visitor.Unlocker. Fails fast while the broker is unreachable;
// the caller surfaces the failure, the grant is not reverted.
func (b *Bridge) UnlockDoor(_ context.Context, doorESPID, logID, decidedBy string) error {
	payload, err := json.Marshal(unlockEnvelope{
		Command:   command.NameUnlockDoor,
		LogID:     logID,
		DecidedBy: decidedBy,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	if err := b.pub.Publish(b.topics.Control(doorESPID), payload, controlQoS, false); err != nil {
		return fmt.Errorf("unlock publish failed: %w", err)
	}
	b.logger.Info("unlock published", "door", doorESPID, "log_id", logID)
	return nil
}

// response is the payload devices publish on the response topic.
type response struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	ESPID     string `json:"espId,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	CommandID string `json:"commandId,omitempty"`
	LogID     string `json:"logId,omitempty"`
}

// handleResponse demultiplexes one response-topic message by correlation
// key. Responses that match no pending command or visitor log are expected
// under QoS 1 redelivery and are logged and dropped, never escalated.
func (b *Bridge) handleResponse(topic string, payload []byte) error {
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		b.logger.Warn("malformed response dropped", "topic", topic, "error", err)
		return nil
	}

	switch {
	case resp.CommandID != "":
		err := b.commands.Resolve(resp.CommandID, command.Status(resp.Status), resp.Detail)
		switch {
		case err == nil:
		case errors.Is(err, command.ErrNotFound), errors.Is(err, command.ErrAlreadyResolved):
			b.logger.Debug("stale command response dropped", "command_id", resp.CommandID)
		default:
			b.logger.Warn("command response rejected", "command_id", resp.CommandID, "error", err)
		}

	case resp.LogID != "":
		ok := resp.Status != "failed" && resp.Status != "error"
		if err := b.visitors.ResolveUnlock(context.Background(), resp.LogID, ok, resp.Detail); err != nil {
			b.logger.Warn("unlock response rejected", "log_id", resp.LogID, "error", err)
		}

	default:
		b.logger.Debug("uncorrelated response dropped", "topic", topic, "esp_id", resp.ESPID)
	}
	return nil
}
