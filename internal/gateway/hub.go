package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/carrick-labs/doorman-core/internal/command"
	"github.com/carrick-labs/doorman-core/internal/device"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/config"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/logging"
	"github.com/carrick-labs/doorman-core/internal/visitor"
)

// Devices is the slice of the device registry the hub needs. Satisfied by
// *device.Registry.
type Devices interface {
	Authenticate(ctx context.Context, espID, token string) (*device.Device, error)
	Get(ctx context.Context, id string) (*device.Device, error)
	GetByESPID(ctx context.Context, espID string) (*device.Device, error)
	SetStatus(ctx context.Context, id string, status device.Status) error
	RecordHeartbeat(ctx context.Context, id string, battery, rssi int) error
	Update(ctx context.Context, dev *device.Device) error
}

// Commander dispatches and resolves device commands. Satisfied by
// *command.Dispatcher.
type Commander interface {
	Dispatch(ctx context.Context, req command.Request) (*command.Command, error)
	Resolve(commandID string, status command.Status, detail string) error
}

// Visitors drives the visitor approval lifecycle. Satisfied by
// *visitor.Engine.
type Visitors interface {
	Create(ctx context.Context, req visitor.CreateRequest) (*visitor.Log, error)
	Get(ctx context.Context, id string) (*visitor.Log, error)
	Decide(ctx context.Context, id string, decision visitor.Status, decidedBy, note string) (*visitor.Log, error)
}

// MetricsWriter receives telemetry extracted from device events. Satisfied
// by the InfluxDB client; nil disables telemetry.
type MetricsWriter interface {
	WriteHeartbeat(espID, deviceType, room string, battery, rssi int, uptimeSecs int64) error
	WriteDoorEvent(espID, room, state, trigger string) error
}

// Hub is the connection registry. It owns every live socket, routes inbound
// events to the dispatcher and the visitor engine, and fans outbound events
// to subscribed dashboards.
type Hub struct {
	cfg       config.WebSocketConfig
	logger    *logging.Logger
	devices   Devices
	commands  Commander
	visitors  Visitors
	metrics   MetricsWriter
	jwtSecret string

	mu          sync.RWMutex
	deviceConns map[string]*Client // keyed by internal device id
	espIndex    map[string]string  // hardware id -> internal device id
	dashboards  map[*Client]struct{}
	closed      bool
}

// NewHub creates a connection hub. metrics may be nil.
func NewHub(cfg config.WebSocketConfig, devices Devices, commands Commander, visitors Visitors, jwtSecret string, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		cfg:         cfg,
		logger:      logger,
		devices:     devices,
		commands:    commands,
		visitors:    visitors,
		jwtSecret:   jwtSecret,
		deviceConns: make(map[string]*Client),
		espIndex:    make(map[string]string),
		dashboards:  make(map[*Client]struct{}),
	}
}

// SetMetrics attaches an optional telemetry sink.
func (h *Hub) SetMetrics(m MetricsWriter) {
	h.metrics = m
}

// SetCommander attaches the command dispatcher. Split from NewHub because
// the dispatcher's bridge routes through the hub, a construction cycle.
func (h *Hub) SetCommander(c Commander) {
	h.commands = c
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// registerDevice records an authenticated device connection and flips the
// device online. A prior connection for the same device is superseded: the
// old socket closes without emitting device_disconnected, since the device
// is still online on the new socket.
func (h *Hub) registerDevice(client *Client) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	old := h.deviceConns[client.deviceID]
	h.deviceConns[client.deviceID] = client
	h.espIndex[client.espID] = client.deviceID
	h.mu.Unlock()

	if old != nil {
		old.superseded.Store(true)
		old.close()
		h.logger.Info("device connection superseded", "device_id", client.deviceID)
	}

	if err := h.devices.SetStatus(context.Background(), client.deviceID, device.StatusOnline); err != nil {
		h.logger.Warn("failed to mark device online", "device_id", client.deviceID, "error", err)
	}

	h.BroadcastToDevice(client.deviceID, NewMessage(EventDeviceConnected, map[string]any{
		"deviceId": client.deviceID,
		"espId":    client.espID,
	}))

	h.logger.Info("device connected", "device_id", client.deviceID, "esp_id", client.espID)
	return nil
}

// registerDashboard records an authenticated dashboard connection.
func (h *Hub) registerDashboard(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.dashboards[client] = struct{}{}
	return nil
}

// unregister removes a client after its read pump exits. A device that is
// still the authoritative connection flips offline and the disconnect fans
// out; a superseded connection leaves the newer registration untouched.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	wasCurrent := false
	switch client.role {
	case ClientTypeDevice:
		if h.deviceConns[client.deviceID] == client {
			delete(h.deviceConns, client.deviceID)
			delete(h.espIndex, client.espID)
			wasCurrent = true
		}
	case ClientTypeDashboard:
		delete(h.dashboards, client)
	}
	h.mu.Unlock()

	client.close()

	if !wasCurrent || client.superseded.Load() {
		return
	}

	if err := h.devices.SetStatus(context.Background(), client.deviceID, device.StatusOffline); err != nil {
		h.logger.Warn("failed to mark device offline", "device_id", client.deviceID, "error", err)
	}

	h.BroadcastToDevice(client.deviceID, NewMessage(EventDeviceDisconnected, map[string]any{
		"deviceId": client.deviceID,
		"espId":    client.espID,
	}))

	h.logger.Info("device disconnected", "device_id", client.deviceID)
}

// BroadcastToDevice delivers an event to every dashboard subscribed to the
// given device. Delivery is best effort and independent per connection.
func (h *Hub) BroadcastToDevice(deviceID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot under the hub lock, send outside it.
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.dashboards))
	for dash := range h.dashboards {
		targets = append(targets, dash)
	}
	h.mu.RUnlock()

	sent := 0
	for _, dash := range targets {
		if dash.isSubscribed(deviceID) {
			dash.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("event fanned out", "event", msg.Type, "device_id", deviceID, "recipients", sent)
	}
}

// BroadcastAll delivers an event to every connected dashboard regardless of
// subscriptions. Used for system alerts.
func (h *Hub) BroadcastAll(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.dashboards))
	for dash := range h.dashboards {
		targets = append(targets, dash)
	}
	h.mu.RUnlock()

	for _, dash := range targets {
		dash.trySend(data)
	}
}

// SendToDevice delivers an event to a device's live socket.
func (h *Hub) SendToDevice(deviceID string, msg Message) error {
	h.mu.RLock()
	client := h.deviceConns[deviceID]
	h.mu.RUnlock()

	if client == nil {
		return ErrDeviceNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	client.trySend(data)
	return nil
}

// SendToESP delivers an event to the device holding the given hardware id.
func (h *Hub) SendToESP(espID string, msg Message) error {
	h.mu.RLock()
	deviceID, ok := h.espIndex[espID]
	h.mu.RUnlock()
	if !ok {
		return ErrDeviceNotConnected
	}
	return h.SendToDevice(deviceID, msg)
}

// DeviceOnline reports whether a device holds a live socket connection.
func (h *Hub) DeviceOnline(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.deviceConns[deviceID]
	return ok
}

// ESPOnline reports whether the device with the given hardware id holds a
// live socket connection.
func (h *Hub) ESPOnline(espID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.espIndex[espID]
	return ok
}

// ClientCount returns connected devices and dashboards.
func (h *Hub) ClientCount() (devices, dashboards int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.deviceConns), len(h.dashboards)
}

// CommandStatus fans a command lifecycle change out to dashboards watching
// the target device. Implements command.Notifier.
func (h *Hub) CommandStatus(cmd *command.Command) {
	h.BroadcastToDevice(cmd.DeviceID, NewMessage(EventCommandStatus, cmd))
}

// NewVisitor announces a pending visitor to dashboards watching the camera.
// Implements part of visitor.Notifier.
func (h *Hub) NewVisitor(log *visitor.Log) {
	h.BroadcastToDevice(log.CameraID, NewMessage(EventNewVisitor, log))
}

// VisitorProcessed fans a terminal visitor decision out to dashboards and
// tells the originating camera whether access was granted. Implements the
// rest of visitor.Notifier.
func (h *Hub) VisitorProcessed(log *visitor.Log) {
	payload := map[string]any{
		"log": log,
	}
	if log.UnlockError != "" {
		payload["hardware_error"] = log.UnlockError
	}
	h.BroadcastToDevice(log.CameraID, NewMessage(EventVisitorProcessed, payload))

	cameraEvent := EventAccessDenied
	if log.Status == visitor.StatusGranted {
		cameraEvent = EventAccessGranted
	}
	if err := h.SendToDevice(log.CameraID, NewMessage(cameraEvent, map[string]any{
		"visitorId": log.ID,
	})); err != nil {
		h.logger.Debug("camera not reachable for decision event", "camera_id", log.CameraID, "error", err)
	}

	if log.UnlockError != "" {
		h.BroadcastAll(NewMessage(EventSystemAlert, map[string]any{
			"message":   "door unlock failed after grant",
			"visitorId": log.ID,
			"detail":    log.UnlockError,
		}))
	}
}

// closeAll disconnects every client during shutdown.
func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.deviceConns)+len(h.dashboards))
	for _, c := range h.deviceConns {
		clients = append(clients, c)
	}
	for c := range h.dashboards {
		clients = append(clients, c)
	}
	h.deviceConns = make(map[string]*Client)
	h.espIndex = make(map[string]string)
	h.dashboards = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.logger.Info("hub closed", "disconnected", len(clients))
}

// authDeadline returns the handshake deadline for new connections.
func (h *Hub) authDeadline() time.Duration {
	if h.cfg.AuthTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(h.cfg.AuthTimeout) * time.Second
}
