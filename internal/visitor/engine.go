package visitor

import (
	"context"
	"fmt"
	"time"
)

// Unlocker dispatches a door unlock on a granted visitor.
// Implemented by the gateway bridge over the command dispatcher.
type Unlocker interface {
	// UnlockDoor opens the named lock, correlated to the visitor log.
	UnlockDoor(ctx context.Context, doorESPID, logID, decidedBy string) error
}

// Notifier receives visitor workflow events for fan-out to dashboards
// and the originating camera. May be nil.
type Notifier interface {
	// NewVisitor is called when a pending log is created.
	NewVisitor(log *Log)

	// VisitorProcessed is called when a decision lands. The log carries
	// the outcome and, for grants with failed actuation, the unlock error.
	VisitorProcessed(log *Log)
}

// Logger defines the logging interface used by the Engine.
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

// Engine runs the visitor approval workflow.
//
// Thread Safety: all methods are safe for concurrent use. Races between
// concurrent decisions are settled by the repository's pending-status guard;
// exactly one caller wins the transition.
type Engine struct {
	repo     Repository
	unlocker Unlocker
	notifier Notifier
	logger   Logger
}

// NewEngine creates a visitor approval engine.
func NewEngine(repo Repository, unlocker Unlocker) *Engine {
	return &Engine{
		repo:     repo,
		unlocker: unlocker,
		logger:   noopLogger{},
	}
}

// SetNotifier sets the event fan-out target.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetUnlocker sets the door unlock dispatcher. The engine and the bridge
// reference each other, so one side is wired after construction.
func (e *Engine) SetUnlocker(u Unlocker) {
	e.unlocker = u
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// CreateRequest describes a visitor detection from a camera.
type CreateRequest struct {
	CameraID    string
	CameraESPID string
	DoorESPID   string
	SnapshotURL string
}

// Create records a new pending visitor and notifies dashboards.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Log, error) {
	log := &Log{
		CameraID:    req.CameraID,
		CameraESPID: req.CameraESPID,
		DoorESPID:   req.DoorESPID,
		SnapshotURL: req.SnapshotURL,
		Status:      StatusPending,
	}

	if err := e.repo.Create(ctx, log); err != nil {
		return nil, err
	}

	e.logger.Info("visitor pending",
		"log_id", log.ID, "camera", log.CameraESPID, "door", log.DoorESPID)

	if e.notifier != nil {
		e.notifier.NewVisitor(log.Clone())
	}
	return log.Clone(), nil
}

// Get retrieves a visitor log.
func (e *Engine) Get(ctx context.Context, id string) (*Log, error) {
	return e.repo.GetByID(ctx, id)
}

// List returns visitor logs newest first, up to limit (0 = all).
func (e *Engine) List(ctx context.Context, limit int) ([]Log, error) {
	return e.repo.List(ctx, limit)
}

// ListPending returns undecided logs newest first.
func (e *Engine) ListPending(ctx context.Context) ([]Log, error) {
	return e.repo.ListPending(ctx)
}

// Decide applies a grant or deny to a pending visitor log. The note is the
// operator's free text: a note on a grant, a reason on a deny.
//
// The first decision wins; concurrent or repeated decisions get
// ErrAlreadyDecided. On a grant the paired door unlock is dispatched; an
// unlock failure does not revert the grant, it is recorded on the log and
// surfaced through the notifier.
func (e *Engine) Decide(ctx context.Context, id string, decision Status, decidedBy, note string) (*Log, error) {
	if err := ValidateDecision(decision); err != nil {
		return nil, err
	}

	decidedAt := time.Now().UTC()
	if err := e.repo.Decide(ctx, id, decision, decidedBy, note, decidedAt); err != nil {
		return nil, err
	}

	log, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	e.logger.Info("visitor decided",
		"log_id", id, "decision", decision, "decided_by", decidedBy)

	if decision == StatusGranted {
		e.dispatchUnlock(ctx, log, decidedBy)
	}

	if e.notifier != nil {
		e.notifier.VisitorProcessed(log.Clone())
	}
	return log, nil
}

// ResolveUnlock records the hardware outcome of a dispatched unlock. The
// bridge calls it when the door acknowledges on the response topic. A
// failed actuation is recorded on the log; the grant stands.
func (e *Engine) ResolveUnlock(ctx context.Context, id string, ok bool, detail string) error {
	if ok {
		e.logger.Debug("door unlock confirmed", "log_id", id)
		return nil
	}

	e.logger.Error("door unlock failed at hardware", "log_id", id, "detail", detail)
	if err := e.repo.SetUnlockError(ctx, id, detail); err != nil {
		return err
	}
	return nil
}

// dispatchUnlock opens the paired door for a granted visitor. Failures are
// recorded on the log; the grant stands.
func (e *Engine) dispatchUnlock(ctx context.Context, log *Log, decidedBy string) {
	var unlockErr error
	switch {
	case log.DoorESPID == "":
		unlockErr = ErrNoDoor
	case e.unlocker == nil:
		unlockErr = fmt.Errorf("no unlocker configured")
	default:
		unlockErr = e.unlocker.UnlockDoor(ctx, log.DoorESPID, log.ID, decidedBy)
	}

	if unlockErr == nil {
		return
	}

	log.UnlockError = unlockErr.Error()
	e.logger.Error("unlock dispatch failed",
		"log_id", log.ID, "door", log.DoorESPID, "error", unlockErr)

	if err := e.repo.SetUnlockError(ctx, log.ID, unlockErr.Error()); err != nil {
		e.logger.Error("recording unlock error failed", "log_id", log.ID, "error", err)
	}
}
