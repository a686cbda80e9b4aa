package gateway

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/carrick-labs/doorman-core/internal/auth"
	"github.com/carrick-labs/doorman-core/internal/command"
	"github.com/carrick-labs/doorman-core/internal/visitor"
)

func deviceAuthFrame(espID, token string) []byte {
	return fmt.Appendf(nil, `{"type":"authenticate","payload":{"clientType":"device","deviceId":%q,"deviceToken":%q}}`, espID, token)
}

func dashboardAuthFrame(t *testing.T, role auth.Role) []byte {
	t.Helper()
	user := &auth.User{ID: "usr-test", Username: "tester", Role: role}
	token, err := auth.GenerateAccessToken(user, testJWTSecret, 15)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return fmt.Appendf(nil, `{"type":"authenticate","payload":{"clientType":"dashboard","token":%q}}`, token)
}

func TestHandshake_DeviceSuccess(t *testing.T) {
	lock := testDoorLock()
	devices := newMockDevices(lock)
	h := newTestHub(devices, newMockCommander(), newMockVisitors())
	c := newTestClient(h)

	c.handleMessage(deviceAuthFrame(lock.ESPID, "valid-token"))

	if !c.authenticated.Load() {
		t.Fatal("client not authenticated after valid handshake")
	}
	if c.deviceID != lock.ID || c.espID != lock.ESPID {
		t.Errorf("identity = %q/%q, want %q/%q", c.deviceID, c.espID, lock.ID, lock.ESPID)
	}
	if !h.DeviceOnline(lock.ID) {
		t.Error("device not registered")
	}
	if msg := recvFrame(t, c); msg.Type != EventAuthSuccess {
		t.Errorf("frame = %q, want auth_success", msg.Type)
	}
}

func TestHandshake_DeviceBadToken(t *testing.T) {
	lock := testDoorLock()
	h := newTestHub(newMockDevices(lock), newMockCommander(), newMockVisitors())
	c := newTestClient(h)

	c.handleMessage(deviceAuthFrame(lock.ESPID, "wrong-token"))

	if c.authenticated.Load() {
		t.Error("client authenticated with bad token")
	}
	if h.DeviceOnline(lock.ID) {
		t.Error("device registered despite failed handshake")
	}
	if msg := recvFrame(t, c); msg.Type != EventError {
		t.Errorf("frame = %q, want error", msg.Type)
	}
}

func TestHandshake_DashboardJWT(t *testing.T) {
	h := newTestHub(newMockDevices(), newMockCommander(), newMockVisitors())
	c := newTestClient(h)

	c.handleMessage(dashboardAuthFrame(t, auth.RoleOperator))

	if !c.authenticated.Load() {
		t.Fatal("dashboard not authenticated")
	}
	if c.userID != "usr-test" {
		t.Errorf("userID = %q, want usr-test", c.userID)
	}
	if c.userRole != auth.RoleOperator {
		t.Errorf("role = %q, want operator", c.userRole)
	}
	if msg := recvFrame(t, c); msg.Type != EventAuthSuccess {
		t.Errorf("frame = %q, want auth_success", msg.Type)
	}
}

func TestHandshake_GarbageJWT(t *testing.T) {
	h := newTestHub(newMockDevices(), newMockCommander(), newMockVisitors())
	c := newTestClient(h)

	c.handleMessage([]byte(`{"type":"authenticate","payload":{"clientType":"dashboard","token":"not-a-jwt"}}`))

	if c.authenticated.Load() {
		t.Error("dashboard authenticated with garbage token")
	}
}

func TestHandshake_RequiredBeforeAnyEvent(t *testing.T) {
	h := newTestHub(newMockDevices(), newMockCommander(), newMockVisitors())
	c := newTestClient(h)

	c.handleMessage([]byte(`{"type":"device_heartbeat","payload":{"battery":50,"rssi":-60}}`))

	if msg := recvFrame(t, c); msg.Type != EventError {
		t.Errorf("frame = %q, want error", msg.Type)
	}
	// close() ran, the send channel is gone.
	if _, ok := <-c.send; ok {
		t.Error("connection left open after pre-auth event")
	}
}

// authedDevice returns a registered device client with its queue drained.
func authedDevice(t *testing.T, h *Hub, espID string) *Client {
	t.Helper()
	c := newTestClient(h)
	c.handleMessage(deviceAuthFrame(espID, "valid-token"))
	if !c.authenticated.Load() {
		t.Fatal("device handshake failed")
	}
	drainFrames(c)
	return c
}

func authedDashboard(t *testing.T, h *Hub, role auth.Role, subscriptions ...string) *Client {
	t.Helper()
	c := newTestClient(h)
	c.handleMessage(dashboardAuthFrame(t, role))
	if !c.authenticated.Load() {
		t.Fatal("dashboard handshake failed")
	}
	for _, id := range subscriptions {
		c.subscribe(id)
	}
	drainFrames(c)
	return c
}

func TestDeviceEvent_Heartbeat(t *testing.T) {
	lock := testDoorLock()
	devices := newMockDevices(lock)
	h := newTestHub(devices, newMockCommander(), newMockVisitors())
	c := authedDevice(t, h, lock.ESPID)

	c.handleMessage([]byte(`{"type":"device_heartbeat","payload":{"battery":75,"rssi":-55,"uptimeSecs":120}}`))

	if got := devices.heartbeatCount(lock.ID); got != 1 {
		t.Errorf("heartbeat count = %d, want 1", got)
	}
}

func TestDeviceEvent_ValidationFailureKeepsConnection(t *testing.T) {
	lock := testDoorLock()
	devices := newMockDevices(lock)
	h := newTestHub(devices, newMockCommander(), newMockVisitors())
	c := authedDevice(t, h, lock.ESPID)

	c.handleMessage([]byte(`{"type":"device_heartbeat","payload":{"battery":250,"rssi":-55}}`))

	if msg := recvFrame(t, c); msg.Type != EventError {
		t.Errorf("frame = %q, want error", msg.Type)
	}
	if got := devices.heartbeatCount(lock.ID); got != 0 {
		t.Errorf("invalid heartbeat recorded, count = %d", got)
	}

	// The connection is still usable.
	c.handleMessage([]byte(`{"type":"device_heartbeat","payload":{"battery":75,"rssi":-55}}`))
	if got := devices.heartbeatCount(lock.ID); got != 1 {
		t.Errorf("follow-up heartbeat not recorded, count = %d", got)
	}
}

func TestDeviceEvent_DoorStatusFansOut(t *testing.T) {
	lock := testDoorLock()
	h := newTestHub(newMockDevices(lock), newMockCommander(), newMockVisitors())
	c := authedDevice(t, h, lock.ESPID)
	dash := registerTestDashboard(t, h, lock.ID)

	c.handleMessage([]byte(`{"type":"door_status_changed","payload":{"state":"unlocked","trigger":"remote"}}`))

	if msg := recvFrame(t, dash); msg.Type != EventDeviceStatus {
		t.Errorf("frame = %q, want device_status", msg.Type)
	}
}

func TestDeviceEvent_SnapshotCreatesVisitor(t *testing.T) {
	cam := testCamera()
	visitors := newMockVisitors()
	h := newTestHub(newMockDevices(cam), newMockCommander(), visitors)
	c := authedDevice(t, h, cam.ESPID)

	c.handleMessage([]byte(`{"type":"snapshot_ready","payload":{"url":"/snapshots/v.jpg","doorEspId":"esp-lock-front"}}`))

	log, err := visitors.Get(context.Background(), "v-1")
	if err != nil {
		t.Fatalf("visitor log not created: %v", err)
	}
	if log.CameraID != cam.ID {
		t.Errorf("CameraID = %q, want %q", log.CameraID, cam.ID)
	}
	if log.DoorESPID != "esp-lock-front" {
		t.Errorf("DoorESPID = %q", log.DoorESPID)
	}
}

func TestDeviceEvent_CommandAck(t *testing.T) {
	lock := testDoorLock()
	commands := newMockCommander()
	h := newTestHub(newMockDevices(lock), commands, newMockVisitors())
	c := authedDevice(t, h, lock.ESPID)

	c.handleMessage([]byte(`{"type":"command_ack","payload":{"commandId":"cmd-7","status":"executed"}}`))

	if got := commands.resolved["cmd-7"]; got != command.StatusExecuted {
		t.Errorf("resolved status = %q, want executed", got)
	}
}

func TestDeviceEvent_StaleAckDroppedQuietly(t *testing.T) {
	lock := testDoorLock()
	commands := newMockCommander()
	commands.resolveErr = command.ErrAlreadyResolved
	h := newTestHub(newMockDevices(lock), commands, newMockVisitors())
	c := authedDevice(t, h, lock.ESPID)

	c.handleMessage([]byte(`{"type":"command_ack","payload":{"commandId":"cmd-7","status":"executed"}}`))

	if types := drainFrames(c); len(types) != 0 {
		t.Errorf("stale ack produced frames %v, want none", types)
	}
}

func TestDashboardEvent_SubscribeRoutesEvents(t *testing.T) {
	lock := testDoorLock()
	h := newTestHub(newMockDevices(lock), newMockCommander(), newMockVisitors())
	dash := authedDashboard(t, h, auth.RoleViewer)

	dash.handleMessage(fmt.Appendf(nil, `{"type":"subscribe_device","payload":{"deviceId":%q}}`, lock.ID))
	drainFrames(dash)

	h.BroadcastToDevice(lock.ID, NewMessage(EventDeviceStatus, nil))
	if msg := recvFrame(t, dash); msg.Type != EventDeviceStatus {
		t.Errorf("frame = %q, want device_status", msg.Type)
	}

	dash.handleMessage(fmt.Appendf(nil, `{"type":"unsubscribe_device","payload":{"deviceId":%q}}`, lock.ID))
	drainFrames(dash)

	h.BroadcastToDevice(lock.ID, NewMessage(EventDeviceStatus, nil))
	if types := drainFrames(dash); slices.Contains(types, EventDeviceStatus) {
		t.Errorf("unsubscribed dashboard still received device_status")
	}
}

func TestDashboardEvent_SendCommand(t *testing.T) {
	lock := testDoorLock()
	commands := newMockCommander()
	h := newTestHub(newMockDevices(lock), commands, newMockVisitors())
	dash := authedDashboard(t, h, auth.RoleOperator)

	dash.handleMessage(fmt.Appendf(nil, `{"type":"send_command","payload":{"deviceId":%q,"command":"restart_device"}}`, lock.ID))

	if commands.dispatchCount() != 1 {
		t.Fatalf("dispatch count = %d, want 1", commands.dispatchCount())
	}
	req := commands.dispatched[0]
	if req.ESPID != lock.ESPID {
		t.Errorf("dispatched ESPID = %q, want %q", req.ESPID, lock.ESPID)
	}
	if req.IssuedBy != "usr-test" {
		t.Errorf("IssuedBy = %q, want usr-test", req.IssuedBy)
	}
	if msg := recvFrame(t, dash); msg.Type != EventCommandStatus {
		t.Errorf("frame = %q, want command_status", msg.Type)
	}
}

func TestDashboardEvent_ViewerCannotCommand(t *testing.T) {
	lock := testDoorLock()
	commands := newMockCommander()
	h := newTestHub(newMockDevices(lock), commands, newMockVisitors())
	dash := authedDashboard(t, h, auth.RoleViewer)

	dash.handleMessage(fmt.Appendf(nil, `{"type":"send_command","payload":{"deviceId":%q,"command":"unlock_door"}}`, lock.ID))

	if commands.dispatchCount() != 0 {
		t.Errorf("viewer dispatched a command")
	}
	if msg := recvFrame(t, dash); msg.Type != EventError {
		t.Errorf("frame = %q, want error", msg.Type)
	}
}

func TestDashboardEvent_VisitorApproval(t *testing.T) {
	cam := testCamera()
	visitors := newMockVisitors()
	h := newTestHub(newMockDevices(cam), newMockCommander(), visitors)

	log, err := visitors.Create(context.Background(), visitor.CreateRequest{CameraID: cam.ID, CameraESPID: cam.ESPID, SnapshotURL: "/s.jpg"})
	if err != nil {
		t.Fatalf("seeding log: %v", err)
	}

	dash := authedDashboard(t, h, auth.RoleOperator)
	dash.handleMessage(fmt.Appendf(nil, `{"type":"visitor_approval","payload":{"visitorId":%q,"decision":"grant","note":"expected courier"}}`, log.ID))

	msg := recvFrame(t, dash)
	if msg.Type != EventVisitorProcessed {
		t.Fatalf("frame = %q, want visitor_processed", msg.Type)
	}
	got, _ := visitors.Get(context.Background(), log.ID)
	if got.Status != visitor.StatusGranted {
		t.Errorf("log status = %q, want granted", got.Status)
	}
	if got.DecidedBy != "usr-test" {
		t.Errorf("DecidedBy = %q, want usr-test", got.DecidedBy)
	}
	if got.Note != "expected courier" {
		t.Errorf("Note = %q, want expected courier", got.Note)
	}
}

// A decision on an already-terminal log is a no-op returning the existing
// terminal state, so REST and socket paths can race safely.
func TestDashboardEvent_VisitorApprovalIdempotent(t *testing.T) {
	cam := testCamera()
	visitors := newMockVisitors()
	h := newTestHub(newMockDevices(cam), newMockCommander(), visitors)

	log, err := visitors.Create(context.Background(), visitor.CreateRequest{CameraID: cam.ID, CameraESPID: cam.ESPID, SnapshotURL: "/s.jpg"})
	if err != nil {
		t.Fatalf("seeding log: %v", err)
	}
	if _, err := visitors.Decide(context.Background(), log.ID, visitor.StatusDenied, "usr-first", ""); err != nil {
		t.Fatalf("seeding decision: %v", err)
	}

	dash := authedDashboard(t, h, auth.RoleOperator)
	dash.handleMessage(fmt.Appendf(nil, `{"type":"visitor_approval","payload":{"visitorId":%q,"decision":"grant"}}`, log.ID))

	msg := recvFrame(t, dash)
	if msg.Type != EventVisitorProcessed {
		t.Fatalf("frame = %q, want visitor_processed", msg.Type)
	}
	got, _ := visitors.Get(context.Background(), log.ID)
	if got.Status != visitor.StatusDenied {
		t.Errorf("terminal state changed to %q by losing decision", got.Status)
	}
	if got.DecidedBy != "usr-first" {
		t.Errorf("DecidedBy = %q, want usr-first", got.DecidedBy)
	}
}

func TestDashboardEvent_ViewerCannotDecideVisitors(t *testing.T) {
	cam := testCamera()
	visitors := newMockVisitors()
	h := newTestHub(newMockDevices(cam), newMockCommander(), visitors)

	log, _ := visitors.Create(context.Background(), visitor.CreateRequest{CameraID: cam.ID, CameraESPID: cam.ESPID, SnapshotURL: "/s.jpg"})

	dash := authedDashboard(t, h, auth.RoleViewer)
	dash.handleMessage(fmt.Appendf(nil, `{"type":"visitor_approval","payload":{"visitorId":%q,"decision":"grant"}}`, log.ID))

	if msg := recvFrame(t, dash); msg.Type != EventError {
		t.Errorf("frame = %q, want error", msg.Type)
	}
	got, _ := visitors.Get(context.Background(), log.ID)
	if got.Status != visitor.StatusPending {
		t.Errorf("viewer decided a visitor, status = %q", got.Status)
	}
}
