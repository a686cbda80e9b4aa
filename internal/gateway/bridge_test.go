package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/carrick-labs/doorman-core/internal/command"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/logging"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockPublisher captures publishes and subscription handlers.
type mockPublisher struct {
	mu         sync.Mutex
	publishes  []published
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.publishes = append(m.publishes, published{topic, payload, qos, retained})
	return nil
}

func (m *mockPublisher) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockPublisher) publishCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.publishes)
}

func (m *mockPublisher) lastPublish(t *testing.T) published {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.publishes) == 0 {
		t.Fatal("no publishes recorded")
	}
	return m.publishes[len(m.publishes)-1]
}

type mockUnlockResolver struct {
	mu       sync.Mutex
	resolved map[string]bool
	details  map[string]string
}

func newMockUnlockResolver() *mockUnlockResolver {
	return &mockUnlockResolver{resolved: make(map[string]bool), details: make(map[string]string)}
}

func (m *mockUnlockResolver) ResolveUnlock(_ context.Context, logID string, ok bool, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved[logID] = ok
	m.details[logID] = detail
	return nil
}

func newTestBridge(pub Publisher, hub *Hub, commands commandResolver, visitors unlockResolver) *Bridge {
	return NewBridge(pub, mqtt.Topics{Prefix: "doorman"}, hub, commands, visitors, logging.Default())
}

func TestBridge_SendCommandOverMQTT(t *testing.T) {
	pub := newMockPublisher()
	b := newTestBridge(pub, nil, newMockCommander(), newMockUnlockResolver())

	payload := []byte(`{"command":"restart_device","commandId":"cmd-1","timestamp":1}`)
	if err := b.SendCommand("esp-lock-front", payload); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	p := pub.lastPublish(t)
	if p.topic != "doorman/control/esp-lock-front" {
		t.Errorf("topic = %q", p.topic)
	}
	if p.qos != 1 || p.retained {
		t.Errorf("qos = %d retained = %v, want qos 1 not retained", p.qos, p.retained)
	}
}

func TestBridge_HardwareCommandNeverUsesSocket(t *testing.T) {
	lock := testDoorLock()
	h := newTestHub(newMockDevices(lock), newMockCommander(), newMockVisitors())
	conn := registerTestDevice(t, h, lock)
	drainFrames(conn)

	pub := newMockPublisher()
	b := newTestBridge(pub, h, newMockCommander(), newMockUnlockResolver())

	payload := []byte(`{"command":"unlock_door","commandId":"cmd-1","timestamp":1}`)
	if err := b.SendCommand(lock.ESPID, payload); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	if pub.publishCount() != 1 {
		t.Errorf("publish count = %d, want 1 (hardware command must go over MQTT)", pub.publishCount())
	}
	if types := drainFrames(conn); len(types) != 0 {
		t.Errorf("socket received %v for a hardware command", types)
	}
}

func TestBridge_SocketRoutingWhenOnline(t *testing.T) {
	cam := testCamera()
	h := newTestHub(newMockDevices(cam), newMockCommander(), newMockVisitors())
	conn := registerTestDevice(t, h, cam)
	drainFrames(conn)

	pub := newMockPublisher()
	b := newTestBridge(pub, h, newMockCommander(), newMockUnlockResolver())

	payload := []byte(`{"command":"request_snapshot","commandId":"cmd-1","timestamp":1}`)
	if err := b.SendCommand(cam.ESPID, payload); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	if pub.publishCount() != 0 {
		t.Errorf("publish count = %d, want 0 (socket path preferred)", pub.publishCount())
	}
	msg := recvFrame(t, conn)
	if msg.Type != EventBackendCommand {
		t.Errorf("frame = %q, want backend-command", msg.Type)
	}
}

func TestBridge_FallsBackToMQTTWhenOffline(t *testing.T) {
	cam := testCamera()
	h := newTestHub(newMockDevices(cam), newMockCommander(), newMockVisitors())

	pub := newMockPublisher()
	b := newTestBridge(pub, h, newMockCommander(), newMockUnlockResolver())

	payload := []byte(`{"command":"request_snapshot","commandId":"cmd-1","timestamp":1}`)
	if err := b.SendCommand(cam.ESPID, payload); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if pub.publishCount() != 1 {
		t.Errorf("publish count = %d, want 1", pub.publishCount())
	}
}

func TestBridge_PublishFailureSurfaces(t *testing.T) {
	pub := newMockPublisher()
	pub.publishErr = errors.New("broker unreachable")
	b := newTestBridge(pub, nil, newMockCommander(), newMockUnlockResolver())

	err := b.SendCommand("esp-lock-front", []byte(`{"command":"lock_door"}`))
	if err == nil {
		t.Error("SendCommand() with dead broker returned nil")
	}
}

func TestBridge_UnlockDoorEnvelope(t *testing.T) {
	pub := newMockPublisher()
	b := newTestBridge(pub, nil, newMockCommander(), newMockUnlockResolver())

	if err := b.UnlockDoor(context.Background(), "esp-lock-front", "v-42", "usr-1"); err != nil {
		t.Fatalf("UnlockDoor() error = %v", err)
	}

	p := pub.lastPublish(t)
	if p.topic != "doorman/control/esp-lock-front" {
		t.Errorf("topic = %q", p.topic)
	}
	var env unlockEnvelope
	if err := json.Unmarshal(p.payload, &env); err != nil {
		t.Fatalf("unmarshalling envelope: %v", err)
	}
	if env.Command != "unlock_door" {
		t.Errorf("Command = %q", env.Command)
	}
	if env.LogID != "v-42" {
		t.Errorf("LogID = %q, want the visitor correlation key", env.LogID)
	}
	if env.Timestamp == 0 {
		t.Error("Timestamp not set")
	}
}

func TestBridge_ResponseDemux(t *testing.T) {
	commands := newMockCommander()
	visitors := newMockUnlockResolver()
	pub := newMockPublisher()
	b := newTestBridge(pub, nil, commands, visitors)

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	handler := pub.handlers["doorman/response/#"]
	if handler == nil {
		t.Fatal("no handler registered on the response wildcard")
	}

	// Command correlation.
	if err := handler("doorman/response/esp-lock-front", []byte(`{"status":"executed","espId":"esp-lock-front","commandId":"cmd-9"}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if got := commands.resolved["cmd-9"]; got != command.StatusExecuted {
		t.Errorf("command resolution = %q, want executed", got)
	}

	// Visitor correlation resolves that specific log.
	if err := handler("doorman/response/esp-lock-front", []byte(`{"status":"executed","logId":"v-42"}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if ok, found := visitors.resolved["v-42"]; !found || !ok {
		t.Errorf("unlock resolution = %v/%v, want confirmed", ok, found)
	}

	// Hardware failure recorded against the log.
	if err := handler("doorman/response/esp-lock-front", []byte(`{"status":"failed","logId":"v-43","detail":"motor jammed"}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if visitors.resolved["v-43"] {
		t.Error("failed actuation marked as confirmed")
	}
	if visitors.details["v-43"] != "motor jammed" {
		t.Errorf("detail = %q", visitors.details["v-43"])
	}
}

// Late, duplicate and foreign responses are dropped without error.
func TestBridge_UncorrelatedResponsesDropped(t *testing.T) {
	commands := newMockCommander()
	commands.resolveErr = command.ErrNotFound
	pub := newMockPublisher()
	b := newTestBridge(pub, nil, commands, newMockUnlockResolver())

	if err := b.handleResponse("doorman/response", []byte(`{"status":"executed","commandId":"cmd-ghost"}`)); err != nil {
		t.Errorf("stale command response error = %v, want nil", err)
	}
	if err := b.handleResponse("doorman/response", []byte(`{"status":"online","espId":"esp-x"}`)); err != nil {
		t.Errorf("uncorrelated response error = %v, want nil", err)
	}
	if err := b.handleResponse("doorman/response", []byte(`not json`)); err != nil {
		t.Errorf("malformed response error = %v, want nil", err)
	}
}
