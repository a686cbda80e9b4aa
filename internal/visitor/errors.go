package visitor

import "errors"

// Sentinel errors for the visitor package.
var (
	// ErrNotFound is returned when a visitor log ID does not exist.
	ErrNotFound = errors.New("visitor: not found")

	// ErrAlreadyDecided is returned when deciding a visitor log that has
	// already been granted or denied.
	ErrAlreadyDecided = errors.New("visitor: already decided")

	// ErrInvalidDecision is returned when a decision value is not
	// granted or denied.
	ErrInvalidDecision = errors.New("visitor: invalid decision")

	// ErrInvalid is returned when visitor log validation fails.
	ErrInvalid = errors.New("visitor: invalid")

	// ErrNoDoor is returned when granting entry but the visitor's camera
	// has no paired door lock to unlock.
	ErrNoDoor = errors.New("visitor: no paired door")
)
