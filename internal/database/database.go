package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"sitewatch/internal/eventlog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// EventFilter narrows ListEvents
type EventFilter struct {
	CameraID string
	Since    time.Time // Zero for no lower bound
	Limit    int       // 0 for no limit
}

// busyTimeoutMs is how long a connection waits on a locked database
const busyTimeoutMs = 5000

// dsn applies the pragmas on every pooled connection, not only the first one
func dsn(dbPath string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", dbPath, busyTimeoutMs)
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Migrate applies the embedded schema migrations
func (d *Database) Migrate() error {
	m, err := d.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared connection

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	log.Println("[Database] Migrations completed successfully")
	return nil
}

// SchemaVersion returns the applied migration version, 0 if none
func (d *Database) SchemaVersion() (uint, error) {
	m, err := d.newMigrate()
	if err != nil {
		return 0, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

func (d *Database) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(d.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	return m, nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Record implements eventlog.Recorder, assigning an ID when the entry has none
func (d *Database) Record(ctx context.Context, e eventlog.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	query := `INSERT INTO violation_events
		(id, camera_id, timestamp, magnitude, status, kind, frame_seq, counter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query, e.ID, e.CameraID, e.Timestamp.UTC(), e.Magnitude,
		e.Status, e.Kind, int64(e.FrameSeq), e.Counter)
	if err != nil {
		return fmt.Errorf("failed to save violation event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID, nil if absent
func (d *Database) GetEvent(ctx context.Context, id string) (*eventlog.Entry, error) {
	query := `SELECT id, camera_id, timestamp, magnitude, status, kind, frame_seq, counter
		FROM violation_events WHERE id = ?`

	e, err := scanEntry(d.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get violation event: %w", err)
	}
	return e, nil
}

// ListEvents returns events newest first
func (d *Database) ListEvents(ctx context.Context, f EventFilter) ([]*eventlog.Entry, error) {
	query := `SELECT id, camera_id, timestamp, magnitude, status, kind, frame_seq, counter
		FROM violation_events WHERE 1=1`
	args := []interface{}{}

	if f.CameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, f.CameraID)
	}

	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.UTC())
	}

	query += " ORDER BY timestamp DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list violation events: %w", err)
	}
	defer rows.Close()

	var events []*eventlog.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns the number of stored events
func (d *Database) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM violation_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count violation events: %w", err)
	}
	return n, nil
}

// DeleteEventsBefore deletes events older than the specified time
func (d *Database) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM violation_events WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old violation events: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*eventlog.Entry, error) {
	var e eventlog.Entry
	var seq int64
	if err := row.Scan(&e.ID, &e.CameraID, &e.Timestamp, &e.Magnitude, &e.Status, &e.Kind, &seq, &e.Counter); err != nil {
		return nil, err
	}
	e.FrameSeq = uint64(seq)
	return &e, nil
}

// Ensure Database implements eventlog.Recorder
var _ eventlog.Recorder = (*Database)(nil)
