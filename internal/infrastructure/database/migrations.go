package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"time"
)

// MigrationsFS is set by the migrations package so the SQL files compile
// into the binary:
//
//	//go:embed *.sql
//	var migrationsFS embed.FS
//
//	func init() {
//	    database.MigrationsFS = migrationsFS
//	}
var MigrationsFS embed.FS

// MigrationsDir is the directory inside MigrationsFS holding the SQL
// files, "." when they sit at the root.
var MigrationsDir = "migrations"

// migrationFile matches 20260608_100000_devices.up.sql and captures the
// version stamp and the description.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_(.+)\.up\.sql$`)

// Migration is one schema change, loaded from a version-stamped pair of
// .up.sql/.down.sql files.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of the schema_migrations table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies pending migrations in version order, each in its own
// transaction. A failure leaves earlier migrations committed, rolls back
// the failing one, and skips the rest; rerunning Migrate resumes from
// the failure point.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	for _, m := range migrations {
		if _, done := applied[m.Version]; done {
			continue
		}
		if err := db.applyOne(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// GetMigrationStatus reports which migrations have run and which are
// still pending.
func (db *DB) GetMigrationStatus(ctx context.Context) (applied []MigrationRecord, pending []Migration, err error) {
	rows, err := db.QueryContext(ctx,
		"SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	doneSet := make(map[string]struct{})
	for rows.Next() {
		var rec MigrationRecord
		var ts string
		if err := rows.Scan(&rec.Version, &ts); err != nil {
			return nil, nil, fmt.Errorf("scanning migration row: %w", err)
		}
		rec.AppliedAt, _ = time.Parse(time.RFC3339, ts) //nolint:errcheck // format is ours
		applied = append(applied, rec)
		doneSet[rec.Version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating migrations: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, nil, err
	}
	for _, m := range migrations {
		if _, done := doneSet[m.Version]; !done {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[string]struct{})
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions[v] = struct{}{}
	}
	return versions, rows.Err()
}

func (db *DB) applyOne(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// loadMigrations gathers the embedded .up.sql files, pairs each with its
// .down.sql if present, and returns them sorted by version.
func loadMigrations() ([]Migration, error) {
	var empty embed.FS
	if MigrationsFS == empty {
		return nil, nil
	}

	names, err := fs.Glob(MigrationsFS, path.Join(MigrationsDir, "*.up.sql"))
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, name := range names {
		match := migrationFile.FindStringSubmatch(path.Base(name))
		if match == nil {
			continue
		}

		upSQL, err := fs.ReadFile(MigrationsFS, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		m := Migration{
			Version: match[1],
			Name:    match[2],
			UpSQL:   string(upSQL),
		}

		downName := path.Join(MigrationsDir, match[1]+"_"+match[2]+".down.sql")
		downSQL, err := fs.ReadFile(MigrationsFS, downName)
		switch {
		case err == nil:
			m.DownSQL = string(downSQL)
		case errors.Is(err, fs.ErrNotExist):
			// up-only migration
		default:
			return nil, fmt.Errorf("reading %s: %w", downName, err)
		}

		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}
