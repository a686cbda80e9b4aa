package visitor

import "time"

// Status represents where a visitor log is in the approval workflow.
type Status string

// Status constants.
const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
)

// IsTerminal reports whether the status ends the approval workflow.
func (s Status) IsTerminal() bool {
	return s == StatusGranted || s == StatusDenied
}

// Decision is the subset of statuses an operator may assign.
func ValidateDecision(s Status) error {
	if s != StatusGranted && s != StatusDenied {
		return ErrInvalidDecision
	}
	return nil
}

// Log is one visitor event awaiting or holding a decision.
type Log struct {
	ID string `json:"log_id"`

	// CameraID / CameraESPID identify the camera that saw the visitor.
	CameraID    string `json:"camera_id"`
	CameraESPID string `json:"camera_esp_id"`

	// DoorESPID is the paired lock to open on a grant. Empty when the
	// camera watches an area without a controllable door.
	DoorESPID string `json:"door_esp_id,omitempty"`

	// SnapshotURL points at the uploaded visitor image, when the camera
	// provided one.
	SnapshotURL string `json:"snapshot_url,omitempty"`

	Status Status `json:"status"`

	// DecidedBy identifies who decided: a dashboard user ID, or "auto"
	// for rule-based decisions.
	DecidedBy string     `json:"decided_by,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`

	// Note is the operator's free text accompanying the decision: a note
	// on a grant, a reason on a deny.
	Note string `json:"note,omitempty"`

	// UnlockError carries the hardware failure detail when a grant's
	// unlock dispatch failed. The grant itself stands.
	UnlockError string `json:"unlock_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns an independent copy of the log.
func (l *Log) Clone() *Log {
	if l == nil {
		return nil
	}
	cpy := *l
	if l.DecidedAt != nil {
		t := *l.DecidedAt
		cpy.DecidedAt = &t
	}
	return &cpy
}
