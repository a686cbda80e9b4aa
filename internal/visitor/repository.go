package visitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for visitor log persistence.
type Repository interface {
	// Create inserts a new pending visitor log. The ID is generated if empty.
	Create(ctx context.Context, log *Log) error

	// GetByID retrieves a visitor log.
	// Returns ErrNotFound if the log does not exist.
	GetByID(ctx context.Context, id string) (*Log, error)

	// List returns visitor logs newest first, up to limit (0 = all).
	List(ctx context.Context, limit int) ([]Log, error)

	// ListPending returns undecided logs newest first.
	ListPending(ctx context.Context) ([]Log, error)

	// Decide transitions a pending log to granted or denied, recording the
	// operator's note alongside.
	// The WHERE status = 'pending' guard makes the transition first-writer-wins;
	// a lost race returns ErrAlreadyDecided.
	Decide(ctx context.Context, id string, decision Status, decidedBy, note string, decidedAt time.Time) error

	// SetUnlockError records a hardware failure on a granted log.
	SetUnlockError(ctx context.Context, id, detail string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed visitor log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const logColumns = `id, camera_id, camera_esp_id, door_esp_id, snapshot_url,
	status, decided_by, note, decided_at, unlock_error, created_at`

// Create inserts a new pending visitor log.
func (r *SQLiteRepository) Create(ctx context.Context, log *Log) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Status == "" {
		log.Status = StatusPending
	}
	if log.CameraESPID == "" {
		return fmt.Errorf("%w: camera esp id is required", ErrInvalid)
	}

	now := time.Now().UTC()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO visitor_logs (
			id, camera_id, camera_esp_id, door_esp_id, snapshot_url,
			status, decided_by, note, decided_at, unlock_error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.CameraID, log.CameraESPID,
		nullableStr(log.DoorESPID), nullableStr(log.SnapshotURL),
		string(log.Status),
		nullableStr(log.DecidedBy), nullableStr(log.Note), nullableTime(log.DecidedAt),
		nullableStr(log.UnlockError),
		log.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating visitor log: %w", err)
	}

	return nil
}

// GetByID retrieves a visitor log.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Log, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+logColumns+" FROM visitor_logs WHERE id = ?", id)

	log, err := scanLogRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying visitor log: %w", err)
	}
	return log, nil
}

// List returns visitor logs newest first, up to limit (0 = all).
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]Log, error) {
	query := "SELECT " + logColumns + " FROM visitor_logs ORDER BY created_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.queryLogs(ctx, query, args...)
}

// ListPending returns undecided logs newest first.
func (r *SQLiteRepository) ListPending(ctx context.Context) ([]Log, error) {
	return r.queryLogs(ctx,
		"SELECT "+logColumns+" FROM visitor_logs WHERE status = ? ORDER BY created_at DESC",
		string(StatusPending))
}

// Decide transitions a pending log to granted or denied.
func (r *SQLiteRepository) Decide(ctx context.Context, id string, decision Status, decidedBy, note string, decidedAt time.Time) error {
	if err := ValidateDecision(decision); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE visitor_logs
		 SET status = ?, decided_by = ?, note = ?, decided_at = ?
		 WHERE id = ? AND status = 'pending'`,
		string(decision), decidedBy, nullableStr(note),
		decidedAt.UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("deciding visitor log: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Either the log doesn't exist or someone decided first.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyDecided
	}

	return nil
}

// SetUnlockError records a hardware failure on a granted log.
func (r *SQLiteRepository) SetUnlockError(ctx context.Context, id, detail string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE visitor_logs SET unlock_error = ? WHERE id = ?", detail, id)
	if err != nil {
		return fmt.Errorf("recording unlock error: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// queryLogs executes a query and returns a slice of visitor logs.
func (r *SQLiteRepository) queryLogs(ctx context.Context, query string, args ...any) ([]Log, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying visitor logs: %w", err)
	}
	defer rows.Close()

	var logs []Log
	for rows.Next() {
		log, err := scanLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning visitor log: %w", err)
		}
		logs = append(logs, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating visitor logs: %w", err)
	}

	return logs, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanLogRow scans a row or rows result into a Log.
func scanLogRow(scanner rowScanner) (*Log, error) {
	var l Log
	var doorESPID, snapshotURL, decidedBy, note, decidedAt, unlockError sql.NullString
	var status, createdAt string

	err := scanner.Scan(
		&l.ID,
		&l.CameraID,
		&l.CameraESPID,
		&doorESPID,
		&snapshotURL,
		&status,
		&decidedBy,
		&note,
		&decidedAt,
		&unlockError,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	l.Status = Status(status)
	if doorESPID.Valid {
		l.DoorESPID = doorESPID.String
	}
	if snapshotURL.Valid {
		l.SnapshotURL = snapshotURL.String
	}
	if decidedBy.Valid {
		l.DecidedBy = decidedBy.String
	}
	if note.Valid {
		l.Note = note.String
	}
	if unlockError.Valid {
		l.UnlockError = unlockError.String
	}
	if decidedAt.Valid {
		t, err := time.Parse(time.RFC3339, decidedAt.String)
		if err == nil {
			l.DecidedAt = &t
		}
	}

	var parseErr error
	l.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}

	return &l, nil
}

// nullableStr returns a sql.NullString for optional string values.
func nullableStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
