package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Migrate applies the schema. Idempotent; both binaries call it on startup.
// The UNIQUE (student_id, event_id) index is load-bearing: it is what makes
// concurrent registrations for the same pair resolve to a single record.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS locations (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			purpose TEXT NOT NULL,
			environment TEXT NOT NULL DEFAULT 'OUTDOOR',
			boundary TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			registration_location_id TEXT NOT NULL,
			venue_location_id TEXT NOT NULL,
			eligible_groups TEXT NOT NULL DEFAULT '[]',
			all_students BOOLEAN NOT NULL DEFAULT FALSE,
			registration_start TIMESTAMPTZ NOT NULL,
			start_at TIMESTAMPTZ NOT NULL,
			end_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL DEFAULT 'UPCOMING',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_status ON events (status)`,
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id TEXT PRIMARY KEY,
			student_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			registration_location_id TEXT NOT NULL,
			time_in TIMESTAMPTZ,
			time_out TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'REGISTERED',
			reason TEXT,
			updated_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (student_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_event_status ON attendance_records (event_id, status)`,
		`CREATE TABLE IF NOT EXISTS attendance_pings (
			seq BIGSERIAL PRIMARY KEY,
			record_id TEXT NOT NULL REFERENCES attendance_records(id),
			event_id TEXT NOT NULL,
			location_id TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			is_inside BOOLEAN NOT NULL,
			ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pings_record ON attendance_pings (record_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
