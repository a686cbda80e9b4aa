package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device ID or ESP ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrExists is returned when creating a device whose ID or ESP ID is taken.
	ErrExists = errors.New("device: already exists")

	// ErrInvalid is returned when device validation fails.
	ErrInvalid = errors.New("device: invalid")

	// ErrInvalidType is returned when a device type is not recognised.
	ErrInvalidType = errors.New("device: invalid type")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("device: invalid status")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidESPID is returned when an ESP ID has the wrong format.
	ErrInvalidESPID = errors.New("device: invalid esp id")

	// ErrInactive is returned when an inactive device attempts to authenticate.
	ErrInactive = errors.New("device: inactive")

	// ErrAuthFailed is returned when a device token does not match.
	ErrAuthFailed = errors.New("device: authentication failed")

	// ErrActivationInvalid is returned when an activation token is unknown
	// or has already been consumed.
	ErrActivationInvalid = errors.New("device: invalid activation token")
)
