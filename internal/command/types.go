package command

import (
	"fmt"
	"time"
)

// Status represents where a command is in its acknowledgement lifecycle.
type Status string

// Status constants.
const (
	// StatusPending — published to the control topic, no report yet.
	StatusPending Status = "pending"

	// StatusReceived — device confirmed receipt, not yet acting.
	StatusReceived Status = "received"

	// StatusExecuting — device is performing the action.
	StatusExecuting Status = "executing"

	// StatusExecuted — terminal: the device completed the action.
	StatusExecuted Status = "executed"

	// StatusFailed — terminal: the device reported failure, or the
	// publish itself failed.
	StatusFailed Status = "failed"

	// StatusTimeout — terminal: no terminal report within the ack window.
	StatusTimeout Status = "timeout"
)

// IsTerminal reports whether the status ends the command lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusTimeout:
		return true
	case StatusPending, StatusReceived, StatusExecuting:
		return false
	}
	return false
}

// validStatuses is the set of statuses a device report may carry.
var validStatuses = map[Status]struct{}{
	StatusReceived:  {},
	StatusExecuting: {},
	StatusExecuted:  {},
	StatusFailed:    {},
}

// ValidateReportStatus checks a status value arriving from a device report.
// Pending is assigned locally and timeout is decided locally, so neither is
// a valid report value.
func ValidateReportStatus(s Status) error {
	if _, ok := validStatuses[s]; !ok {
		return ErrInvalidStatus
	}
	return nil
}

// Command names the firmware understands. The set is closed: anything
// else is rejected before it reaches a device.
const (
	NameLockDoor        = "lock_door"
	NameUnlockDoor      = "unlock_door"
	NameRequestSnapshot = "request_snapshot"
	NameUpdateSettings  = "update_settings"
	NameRestartDevice   = "restart_device"
	NameFirmwareUpdate  = "firmware_update"
)

// validNames mirrors validStatuses for the command-name axis.
var validNames = map[string]struct{}{
	NameLockDoor:        {},
	NameUnlockDoor:      {},
	NameRequestSnapshot: {},
	NameUpdateSettings:  {},
	NameRestartDevice:   {},
	NameFirmwareUpdate:  {},
}

// ValidateName checks a command name against the firmware command set.
func ValidateName(name string) error {
	if _, ok := validNames[name]; !ok {
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, name)
	}
	return nil
}

// Command is one tracked door command.
type Command struct {
	ID       string         `json:"command_id"`
	DeviceID string         `json:"device_id"`
	ESPID    string         `json:"esp_id"`
	Name     string         `json:"command"`
	Params   map[string]any `json:"params,omitempty"`

	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"` // failure reason or device-supplied detail

	// IssuedBy identifies the originator: a dashboard user ID or "system"
	// for commands dispatched by the visitor engine.
	IssuedBy string `json:"issued_by"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Clone returns an independent copy of the command.
func (c *Command) Clone() *Command {
	if c == nil {
		return nil
	}
	cpy := *c
	if c.Params != nil {
		cpy.Params = make(map[string]any, len(c.Params))
		for k, v := range c.Params {
			cpy.Params[k] = v
		}
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		cpy.ResolvedAt = &t
	}
	return &cpy
}

// Request describes a command to dispatch.
type Request struct {
	DeviceID string
	ESPID    string
	Name     string
	Params   map[string]any
	IssuedBy string
}

// envelope is the JSON control message published to the device.
type envelope struct {
	Command   string         `json:"command"`
	CommandID string         `json:"commandId"`
	Params    map[string]any `json:"params,omitempty"`
	Timestamp int64          `json:"timestamp"`
}
