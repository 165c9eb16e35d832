package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect identifies the SQL backend behind a DB.
type Dialect string

const (
	Postgres Dialect = "pgx"
	SQLite   Dialect = "sqlite3"
)

// DB wraps sqlx.DB for Postgres (server nodes) or SQLite (edge nodes and tests).
type DB struct {
	Client  *sqlx.DB
	Dialect Dialect
}

// NewDB opens a connection, pings it and creates the schema when missing.
// postgres:// and postgresql:// URLs use pgx; sqlite:// URLs or plain file paths use sqlite3.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	dialect, dsn := parseURL(connString)
	db, err := sqlx.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// SQLite has a single writer; one connection keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	d := &DB{Client: db, Dialect: dialect}
	if err := d.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

func parseURL(conn string) (Dialect, string) {
	switch {
	case strings.HasPrefix(conn, "postgres://"), strings.HasPrefix(conn, "postgresql://"):
		return Postgres, conn
	case strings.HasPrefix(conn, "sqlite://"):
		conn = strings.TrimPrefix(conn, "sqlite://")
	}
	sep := "?"
	if strings.Contains(conn, "?") {
		sep = "&"
	}
	// immediate transactions take the write lock up front so the daily
	// check-and-seed cannot interleave with another writer.
	return SQLite, conn + sep + "_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
}

func (d *DB) migrate(ctx context.Context) error {
	schema := postgresSchema
	if d.Dialect == SQLite {
		schema = sqliteSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS students (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS employees (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS attendance_settings (
	id                     INTEGER PRIMARY KEY DEFAULT 1,
	start_time             TEXT NOT NULL,
	end_time               TEXT NOT NULL,
	late_threshold_minutes INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS attendance_records (
	id               BIGSERIAL PRIMARY KEY,
	client_uuid      TEXT NOT NULL UNIQUE,
	subject_id       TEXT NOT NULL,
	subject_type     TEXT NOT NULL CHECK (subject_type IN ('student', 'employee')),
	"timestamp"      TIMESTAMPTZ NOT NULL,
	status           TEXT NOT NULL CHECK (status IN ('absent', 'late', 'present', 'excused')),
	method           TEXT NOT NULL CHECK (method IN ('manual', 'face_recognition', 'system')),
	match_confidence DOUBLE PRECISION,
	synced           BOOLEAN NOT NULL DEFAULT FALSE,
	syncing          BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_attendance_subject_time ON attendance_records (subject_type, subject_id, "timestamp");
CREATE INDEX IF NOT EXISTS idx_attendance_time ON attendance_records ("timestamp");
CREATE INDEX IF NOT EXISTS idx_attendance_unsynced ON attendance_records (synced, syncing)
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS students (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS employees (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS attendance_settings (
	id                     INTEGER PRIMARY KEY DEFAULT 1,
	start_time             TEXT NOT NULL,
	end_time               TEXT NOT NULL,
	late_threshold_minutes INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS attendance_records (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	client_uuid      TEXT NOT NULL UNIQUE,
	subject_id       TEXT NOT NULL,
	subject_type     TEXT NOT NULL CHECK (subject_type IN ('student', 'employee')),
	"timestamp"      DATETIME NOT NULL,
	status           TEXT NOT NULL CHECK (status IN ('absent', 'late', 'present', 'excused')),
	method           TEXT NOT NULL CHECK (method IN ('manual', 'face_recognition', 'system')),
	match_confidence REAL,
	synced           BOOLEAN NOT NULL DEFAULT FALSE,
	syncing          BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at       DATETIME
);
CREATE INDEX IF NOT EXISTS idx_attendance_subject_time ON attendance_records (subject_type, subject_id, "timestamp");
CREATE INDEX IF NOT EXISTS idx_attendance_time ON attendance_records ("timestamp");
CREATE INDEX IF NOT EXISTS idx_attendance_unsynced ON attendance_records (synced, syncing)
`
