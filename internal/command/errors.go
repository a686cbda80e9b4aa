package command

import "errors"

// Sentinel errors for command dispatch.
var (
	// ErrNotFound is returned when a commandId is unknown or already swept.
	ErrNotFound = errors.New("command: not found")

	// ErrAlreadyResolved is returned when a terminal report arrives for a
	// command that has already reached a terminal status.
	ErrAlreadyResolved = errors.New("command: already resolved")

	// ErrTimeout marks a command that received no terminal ack in time.
	ErrTimeout = errors.New("command: acknowledgement timeout")

	// ErrBridgeUnavailable is returned when the MQTT publish fails,
	// typically because the broker connection is down.
	ErrBridgeUnavailable = errors.New("command: bridge unavailable")

	// ErrDeviceOffline is returned when dispatching to a device that has
	// no live connection.
	ErrDeviceOffline = errors.New("command: device offline")

	// ErrInvalidCommand is returned when the command name is empty or the
	// target is missing.
	ErrInvalidCommand = errors.New("command: invalid")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("command: invalid status")
)
