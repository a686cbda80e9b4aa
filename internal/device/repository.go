package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository persists the device inventory. The Registry talks to this
// interface only, so tests swap in a mock without a database.
type Repository interface {
	// GetByID returns the device with the given ID, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByESPID returns the device with the given hardware identifier.
	GetByESPID(ctx context.Context, espID string) (*Device, error)

	// GetByActivationToken finds the inactive device awaiting
	// provisioning under this token, or ErrActivationInvalid.
	GetByActivationToken(ctx context.Context, token string) (*Device, error)

	// List returns the full inventory.
	List(ctx context.Context) ([]Device, error)

	// ListByStatus returns devices in one connectivity state.
	ListByStatus(ctx context.Context, status Status) ([]Device, error)

	// Create inserts a device; ErrExists on a duplicate ID or ESP ID.
	Create(ctx context.Context, device *Device) error

	// Update rewrites a device's stored fields, or ErrNotFound.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device, or ErrNotFound.
	Delete(ctx context.Context, id string) error

	// UpdateStatus records connectivity and last-seen. Called on every
	// connect and disconnect, so it touches only those columns.
	UpdateStatus(ctx context.Context, id string, status Status, lastSeen time.Time) error

	// UpdateHealth records battery and signal readings from a heartbeat.
	UpdateHealth(ctx context.Context, id string, battery, rssi int, lastSeen time.Time) error

	// Activate consumes an activation token: stores the permanent token
	// hash, marks the device active, and clears the activation token.
	Activate(ctx context.Context, id, tokenHash string) error
}

// SQLiteRepository is the SQLite-backed Repository.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed device repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, esp_id, name, room, type, token_hash, activation_token,
	active, status, last_seen, battery, rssi, config, firmware_version,
	created_at, updated_at`

// GetByID loads a single device by primary key.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)

	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// GetByESPID retrieves a device by its hardware identifier.
func (r *SQLiteRepository) GetByESPID(ctx context.Context, espID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE esp_id = ?", espID)

	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by esp id: %w", err)
	}
	return device, nil
}

// GetByActivationToken retrieves an inactive device awaiting provisioning.
func (r *SQLiteRepository) GetByActivationToken(ctx context.Context, token string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE activation_token = ? AND active = 0", token)

	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrActivationInvalid
		}
		return nil, fmt.Errorf("querying device by activation token: %w", err)
	}
	return device, nil
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx,
		"SELECT "+deviceColumns+" FROM devices ORDER BY name")
}

// ListByStatus retrieves all devices with a specific connectivity status.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status Status) ([]Device, error) {
	return r.queryDevices(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE status = ? ORDER BY name", string(status))
}

// Create persists a new device row, stamping created/updated times.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	configJSON, err := json.Marshal(device.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, esp_id, name, room, type, token_hash, activation_token,
			active, status, last_seen, battery, rssi, config, firmware_version,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		device.ID,
		device.ESPID,
		device.Name,
		nullableStr(device.Room),
		string(device.Type),
		nullableStr(device.TokenHash),
		nullableStr(device.ActivationToken),
		boolToInt(device.Active),
		string(device.Status),
		nullableTime(device.LastSeen),
		nullableInt(device.Battery),
		nullableInt(device.RSSI),
		string(configJSON),
		nullablePtr(device.FirmwareVersion),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update rewrites every mutable column of an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	configJSON, err := json.Marshal(device.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			esp_id = ?, name = ?, room = ?, type = ?,
			token_hash = ?, activation_token = ?, active = ?,
			status = ?, last_seen = ?, battery = ?, rssi = ?,
			config = ?, firmware_version = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.ESPID,
		device.Name,
		nullableStr(device.Room),
		string(device.Type),
		nullableStr(device.TokenHash),
		nullableStr(device.ActivationToken),
		boolToInt(device.Active),
		string(device.Status),
		nullableTime(device.LastSeen),
		nullableInt(device.Battery),
		nullableInt(device.RSSI),
		string(configJSON),
		nullablePtr(device.FirmwareVersion),
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRow(result, ErrNotFound)
}

// Delete removes the device row, returning ErrNotFound for unknown IDs.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result, ErrNotFound)
}

// UpdateStatus updates the connectivity status and last seen timestamp.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status, lastSeen time.Time) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET status = ?, last_seen = ?, updated_at = ? WHERE id = ?",
		string(status),
		lastSeen.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	return requireRow(result, ErrNotFound)
}

// UpdateHealth updates the battery and signal readings from a heartbeat.
func (r *SQLiteRepository) UpdateHealth(ctx context.Context, id string, battery, rssi int, lastSeen time.Time) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET battery = ?, rssi = ?, last_seen = ?, updated_at = ? WHERE id = ?",
		battery, rssi,
		lastSeen.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device health: %w", err)
	}
	return requireRow(result, ErrNotFound)
}

// Activate consumes an activation token. The active = 0 guard makes the
// exchange single-use even under concurrent requests.
func (r *SQLiteRepository) Activate(ctx context.Context, id, tokenHash string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices
		 SET token_hash = ?, activation_token = NULL, active = 1, updated_at = ?
		 WHERE id = ? AND active = 0`,
		tokenHash, now, id,
	)
	if err != nil {
		return fmt.Errorf("activating device: %w", err)
	}
	return requireRow(result, ErrActivationInvalid)
}

// requireRow maps a zero-rows-affected result to notFound.
func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// queryDevices runs a multi-row select and scans each result.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow maps one result row onto a Device, decoding nullable
// columns and JSON config along the way.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var room, tokenHash, activationToken sql.NullString
	var lastSeen, firmwareVersion sql.NullString
	var battery, rssi sql.NullInt64
	var active int
	var deviceType, status string
	var configJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.ESPID,
		&d.Name,
		&room,
		&deviceType,
		&tokenHash,
		&activationToken,
		&active,
		&status,
		&lastSeen,
		&battery,
		&rssi,
		&configJSON,
		&firmwareVersion,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Type = DeviceType(deviceType)
	d.Status = Status(status)
	d.Active = active != 0

	if room.Valid {
		d.Room = room.String
	}
	if tokenHash.Valid {
		d.TokenHash = tokenHash.String
	}
	if activationToken.Valid {
		d.ActivationToken = activationToken.String
	}
	if firmwareVersion.Valid {
		d.FirmwareVersion = &firmwareVersion.String
	}
	if battery.Valid {
		b := int(battery.Int64)
		d.Battery = &b
	}
	if rssi.Valid {
		v := int(rssi.Int64)
		d.RSSI = &v
	}

	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err == nil {
			d.LastSeen = &t
		}
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(configJSON), &d.Config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &d, nil
}

// nullableStr returns a sql.NullString for optional string values.
func nullableStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullablePtr returns a sql.NullString for optional string pointers.
func nullablePtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime encodes an optional timestamp as an RFC3339 string column.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullableInt returns a sql.NullInt64 for optional int pointers.
func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// boolToInt stores booleans as 0/1 integers.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError detects SQLite unique-index violations by message.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
