package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bridge is the interface for publishing control envelopes to devices.
// Implemented by the gateway's MQTT bridge.
type Bridge interface {
	// SendCommand publishes a control payload to the device's control topic.
	SendCommand(espID string, payload []byte) error
}

// Notifier receives command status changes for fan-out to dashboard
// subscribers. May be nil.
type Notifier interface {
	// CommandStatus is called on every status transition, including the
	// initial pending state. The command is a private copy.
	CommandStatus(cmd *Command)
}

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// defaultSweepInterval is how often resolved commands are checked against
// the retention window.
const defaultSweepInterval = 30 * time.Second

// tracked pairs a command with its acknowledgement timer.
type tracked struct {
	cmd   *Command
	timer *time.Timer // nil once resolved
}

// Dispatcher tracks in-flight commands and their acknowledgements.
//
// All public methods are thread-safe. Timer callbacks and Resolve calls
// race by design; the commands map mutex makes exactly one of them the
// terminal transition.
type Dispatcher struct {
	bridge   Bridge
	notifier Notifier
	logger   Logger

	ackTimeout time.Duration
	retention  time.Duration

	mu       sync.Mutex
	commands map[string]*tracked
}

// NewDispatcher creates a command dispatcher.
//
// ackTimeout is the window a device has to deliver a terminal report;
// retention is how long resolved commands remain queryable.
func NewDispatcher(bridge Bridge, ackTimeout, retention time.Duration) *Dispatcher {
	return &Dispatcher{
		bridge:     bridge,
		ackTimeout: ackTimeout,
		retention:  retention,
		logger:     noopLogger{},
		commands:   make(map[string]*tracked),
	}
}

// SetNotifier sets the status fan-out target.
func (d *Dispatcher) SetNotifier(n Notifier) {
	d.notifier = n
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Dispatch publishes a command to the device and begins tracking it.
//
// On publish failure the command is returned in failed status alongside
// ErrBridgeUnavailable, so callers can still surface the commandId.
func (d *Dispatcher) Dispatch(_ context.Context, req Request) (*Command, error) {
	if req.ESPID == "" {
		return nil, ErrInvalidCommand
	}
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cmd := &Command{
		ID:        uuid.NewString(),
		DeviceID:  req.DeviceID,
		ESPID:     req.ESPID,
		Name:      req.Name,
		Params:    req.Params,
		Status:    StatusPending,
		IssuedBy:  req.IssuedBy,
		CreatedAt: now,
	}

	payload, err := json.Marshal(envelope{
		Command:   cmd.Name,
		CommandID: cmd.ID,
		Params:    cmd.Params,
		Timestamp: now.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling control envelope: %w", err)
	}

	// Track before publishing. A device can report back while the QoS 1
	// publish is still in flight; the entry has to exist for Resolve to
	// find, or the ack is lost and the timer fires a false timeout.
	t := &tracked{cmd: cmd}
	t.timer = time.AfterFunc(d.ackTimeout, func() { d.expire(cmd.ID) })

	d.mu.Lock()
	d.commands[cmd.ID] = t
	pending := cmd.Clone()
	d.mu.Unlock()
	d.notify(pending)

	if err := d.bridge.SendCommand(cmd.ESPID, payload); err != nil {
		out := d.fail(cmd.ID, "publish failed: "+err.Error())
		d.logger.Warn("command publish failed",
			"command_id", cmd.ID, "esp_id", cmd.ESPID, "command", cmd.Name, "error", err)
		return out, fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}

	d.logger.Info("command dispatched",
		"command_id", cmd.ID, "esp_id", cmd.ESPID, "command", cmd.Name, "issued_by", cmd.IssuedBy)

	out, err := d.Get(cmd.ID)
	if err != nil {
		return pending, nil
	}
	return out, nil
}

// fail marks a command failed unless a device report already resolved it,
// and returns the current snapshot.
func (d *Dispatcher) fail(commandID, detail string) *Command {
	d.mu.Lock()
	t, ok := d.commands[commandID]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	if t.cmd.Status.IsTerminal() {
		cmd := t.cmd.Clone()
		d.mu.Unlock()
		return cmd
	}

	now := time.Now().UTC()
	t.cmd.Status = StatusFailed
	t.cmd.Detail = detail
	t.cmd.ResolvedAt = &now
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	cmd := t.cmd.Clone()
	d.mu.Unlock()

	d.notify(cmd)
	return cmd
}

// Resolve applies a device status report to a tracked command.
//
// Intermediate statuses (received, executing) update progress and leave the
// ack timer armed. Terminal statuses stop the timer and end the lifecycle.
// Returns ErrAlreadyResolved if the command already reached a terminal
// status, ErrNotFound for unknown commandIds.
func (d *Dispatcher) Resolve(commandID string, status Status, detail string) error {
	if err := ValidateReportStatus(status); err != nil {
		return err
	}

	d.mu.Lock()
	t, ok := d.commands[commandID]
	if !ok {
		d.mu.Unlock()
		return ErrNotFound
	}
	if t.cmd.Status.IsTerminal() {
		d.mu.Unlock()
		return ErrAlreadyResolved
	}

	t.cmd.Status = status
	t.cmd.Detail = detail
	if status.IsTerminal() {
		now := time.Now().UTC()
		t.cmd.ResolvedAt = &now
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	}
	cmd := t.cmd.Clone()
	d.mu.Unlock()

	if status.IsTerminal() {
		d.logger.Info("command resolved",
			"command_id", commandID, "status", status, "detail", detail,
			"latency_ms", cmd.ResolvedAt.Sub(cmd.CreatedAt).Milliseconds())
	} else {
		d.logger.Debug("command progress", "command_id", commandID, "status", status)
	}

	d.notify(cmd)
	return nil
}

// expire marks a command as timed out. Called from the ack timer; loses
// cleanly if a terminal Resolve got there first.
func (d *Dispatcher) expire(commandID string) {
	d.mu.Lock()
	t, ok := d.commands[commandID]
	if !ok || t.cmd.Status.IsTerminal() {
		d.mu.Unlock()
		return
	}

	now := time.Now().UTC()
	t.cmd.Status = StatusTimeout
	t.cmd.Detail = ErrTimeout.Error()
	t.cmd.ResolvedAt = &now
	t.timer = nil
	cmd := t.cmd.Clone()
	d.mu.Unlock()

	d.logger.Warn("command timed out",
		"command_id", commandID, "esp_id", cmd.ESPID, "command", cmd.Name)
	d.notify(cmd)
}

// Get returns a copy of a tracked command.
func (d *Dispatcher) Get(commandID string) (*Command, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.commands[commandID]
	if !ok {
		return nil, ErrNotFound
	}
	return t.cmd.Clone(), nil
}

// List returns copies of all tracked commands, newest first not guaranteed.
func (d *Dispatcher) List() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Command, 0, len(d.commands))
	for _, t := range d.commands {
		out = append(out, *t.cmd.Clone())
	}
	return out
}

// PendingCount returns the number of unresolved commands.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, t := range d.commands {
		if !t.cmd.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Run sweeps resolved commands past the retention window until the context
// is cancelled. Call in a goroutine from main.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

// sweep removes resolved commands older than the retention window.
func (d *Dispatcher) sweep() {
	cutoff := time.Now().UTC().Add(-d.retention)

	d.mu.Lock()
	removed := 0
	for id, t := range d.commands {
		if t.cmd.ResolvedAt != nil && t.cmd.ResolvedAt.Before(cutoff) {
			delete(d.commands, id)
			removed++
		}
	}
	d.mu.Unlock()

	if removed > 0 {
		d.logger.Debug("swept resolved commands", "count", removed)
	}
}

// shutdown stops all pending ack timers.
func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range d.commands {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	}
}

// notify delivers a status change to the notifier, if set.
func (d *Dispatcher) notify(cmd *Command) {
	if d.notifier != nil {
		d.notifier.CommandStatus(cmd)
	}
}
