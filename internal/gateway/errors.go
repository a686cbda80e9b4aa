package gateway

import "errors"

var (
	// ErrAuthFailed indicates the handshake credentials were rejected.
	ErrAuthFailed = errors.New("gateway: authentication failed")

	// ErrAuthTimeout indicates no authenticate message arrived within the
	// handshake deadline.
	ErrAuthTimeout = errors.New("gateway: authentication timeout")

	// ErrNotAuthenticated indicates a non-handshake event arrived before
	// the connection authenticated.
	ErrNotAuthenticated = errors.New("gateway: not authenticated")

	// ErrValidation indicates an inbound event failed schema validation.
	ErrValidation = errors.New("gateway: validation failed")

	// ErrUnknownEvent indicates an event type outside the closed set for
	// the sender's role.
	ErrUnknownEvent = errors.New("gateway: unknown event type")

	// ErrForbidden indicates the authenticated identity lacks the role
	// required for the requested operation.
	ErrForbidden = errors.New("gateway: forbidden")

	// ErrDeviceNotConnected indicates the target device holds no live
	// socket connection.
	ErrDeviceNotConnected = errors.New("gateway: device not connected")

	// ErrHubClosed indicates the hub is shutting down and no longer
	// accepts registrations.
	ErrHubClosed = errors.New("gateway: hub closed")
)
