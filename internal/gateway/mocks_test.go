package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/carrick-labs/doorman-core/internal/command"
	"github.com/carrick-labs/doorman-core/internal/device"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/config"
	"github.com/carrick-labs/doorman-core/internal/infrastructure/logging"
	"github.com/carrick-labs/doorman-core/internal/visitor"
)

const testJWTSecret = "test-secret-key-for-gateway-tests"

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		MaxMessageSize: 65536,
		PingInterval:   30,
		PongTimeout:    60,
		AuthTimeout:    10,
	}
}

// mockDevices is an in-memory Devices implementation.
type mockDevices struct {
	mu         sync.Mutex
	byID       map[string]*device.Device
	statuses   map[string]device.Status
	heartbeats map[string]int
}

func newMockDevices(devices ...*device.Device) *mockDevices {
	m := &mockDevices{
		byID:       make(map[string]*device.Device),
		statuses:   make(map[string]device.Status),
		heartbeats: make(map[string]int),
	}
	for _, d := range devices {
		m.byID[d.ID] = d
	}
	return m
}

func (m *mockDevices) Authenticate(_ context.Context, espID, token string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byID {
		if d.ESPID == espID {
			if token != "valid-token" {
				return nil, device.ErrAuthFailed
			}
			return d.DeepCopy(), nil
		}
	}
	return nil, device.ErrNotFound
}

func (m *mockDevices) Get(_ context.Context, id string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, device.ErrNotFound
	}
	return d.DeepCopy(), nil
}

func (m *mockDevices) GetByESPID(_ context.Context, espID string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byID {
		if d.ESPID == espID {
			return d.DeepCopy(), nil
		}
	}
	return nil, device.ErrNotFound
}

func (m *mockDevices) SetStatus(_ context.Context, id string, status device.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	return nil
}

func (m *mockDevices) RecordHeartbeat(_ context.Context, id string, _, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[id]++
	return nil
}

func (m *mockDevices) Update(_ context.Context, d *device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[d.ID] = d.DeepCopy()
	return nil
}

func (m *mockDevices) statusOf(id string) device.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[id]
}

func (m *mockDevices) heartbeatCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeats[id]
}

// mockCommander records dispatch and resolve calls.
type mockCommander struct {
	mu          sync.Mutex
	dispatched  []command.Request
	resolved    map[string]command.Status
	dispatchErr error
	resolveErr  error
}

func newMockCommander() *mockCommander {
	return &mockCommander{resolved: make(map[string]command.Status)}
}

func (m *mockCommander) Dispatch(_ context.Context, req command.Request) (*command.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dispatchErr != nil {
		return nil, m.dispatchErr
	}
	m.dispatched = append(m.dispatched, req)
	return &command.Command{
		ID:       fmt.Sprintf("cmd-%d", len(m.dispatched)),
		DeviceID: req.DeviceID,
		ESPID:    req.ESPID,
		Name:     req.Name,
		Status:   command.StatusPending,
		IssuedBy: req.IssuedBy,
	}, nil
}

func (m *mockCommander) Resolve(commandID string, status command.Status, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolveErr != nil {
		return m.resolveErr
	}
	m.resolved[commandID] = status
	return nil
}

func (m *mockCommander) dispatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dispatched)
}

// mockVisitors records created logs and decisions.
type mockVisitors struct {
	mu        sync.Mutex
	logs      map[string]*visitor.Log
	createErr error
}

func newMockVisitors() *mockVisitors {
	return &mockVisitors{logs: make(map[string]*visitor.Log)}
}

func (m *mockVisitors) Create(_ context.Context, req visitor.CreateRequest) (*visitor.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	log := &visitor.Log{
		ID:          fmt.Sprintf("v-%d", len(m.logs)+1),
		CameraID:    req.CameraID,
		CameraESPID: req.CameraESPID,
		DoorESPID:   req.DoorESPID,
		SnapshotURL: req.SnapshotURL,
		Status:      visitor.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	m.logs[log.ID] = log
	return log.Clone(), nil
}

func (m *mockVisitors) Get(_ context.Context, id string) (*visitor.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[id]
	if !ok {
		return nil, visitor.ErrNotFound
	}
	return log.Clone(), nil
}

func (m *mockVisitors) Decide(_ context.Context, id string, decision visitor.Status, decidedBy, note string) (*visitor.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[id]
	if !ok {
		return nil, visitor.ErrNotFound
	}
	if log.Status != visitor.StatusPending {
		return nil, visitor.ErrAlreadyDecided
	}
	now := time.Now().UTC()
	log.Status = decision
	log.DecidedBy = decidedBy
	log.Note = note
	log.DecidedAt = &now
	return log.Clone(), nil
}

// newTestHub wires a hub against the mocks.
func newTestHub(devices Devices, commands Commander, visitors Visitors) *Hub {
	return NewHub(testWSConfig(), devices, commands, visitors, testJWTSecret, logging.Default())
}

// newTestClient builds a client without a network connection. trySend only
// touches the channel, so hub and handler logic is fully exercisable.
func newTestClient(h *Hub) *Client {
	return &Client{
		hub:           h,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]struct{}),
		authTimer:     time.AfterFunc(time.Hour, func() {}),
	}
}

func testDoorLock() *device.Device {
	return &device.Device{
		ID:     "dev-lock-1",
		ESPID:  "esp-lock-front",
		Name:   "Front Door",
		Room:   "entrance",
		Type:   device.TypeDoorLock,
		Active: true,
		Status: device.StatusOffline,
	}
}

func testCamera() *device.Device {
	return &device.Device{
		ID:     "dev-cam-1",
		ESPID:  "esp-cam-front",
		Name:   "Front Camera",
		Room:   "entrance",
		Type:   device.TypeCamera,
		Active: true,
		Status: device.StatusOffline,
	}
}

// recvFrame reads one outbound frame from a client's send channel.
func recvFrame(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshalling frame: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame received within 1s")
		return Message{}
	}
}

// drainFrames collects every currently queued frame type.
func drainFrames(c *Client) []string {
	var types []string
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return types
			}
			var msg Message
			if json.Unmarshal(data, &msg) == nil {
				types = append(types, msg.Type)
			}
		default:
			return types
		}
	}
}
