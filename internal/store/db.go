// Package store provides durable persistence for the orchestrator's
// journal and budget state on top of SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Profile defines configuration profiles for the store database
type Profile string

const (
	// ProfileStandard - balanced durability for orchestrator state
	ProfileStandard Profile = "standard"
	// ProfileCache - maximum speed for throwaway state (tests)
	ProfileCache Profile = "cache"
)

// DB wraps the database connection with production-grade configuration
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
}

// Config holds database configuration
type Config struct {
	Path    string
	Profile Profile
}

// Open creates a new database connection and ensures the schema exists
func Open(cfg Config) (*DB, error) {
	// file: URIs (in-memory databases for tests) skip filepath operations
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The orchestrator's bookkeeping is single-writer; a small pool suffices.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, path: cfg.Path, profile: cfg.Profile}
	if err := db.ensureSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// buildConnectionString creates a SQLite connection string with profile-specific PRAGMAs
func buildConnectionString(path string, profile Profile) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	connStr := path + sep + "_pragma=journal_mode(WAL)"

	switch profile {
	case ProfileCache:
		connStr += "&_pragma=synchronous(OFF)"
		connStr += "&_pragma=temp_store(MEMORY)"
	default:
		connStr += "&_pragma=synchronous(NORMAL)"
		connStr += "&_pragma=auto_vacuum(INCREMENTAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}

	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=busy_timeout(5000)"

	return connStr
}

// ensureSchema creates the orchestrator tables if they do not exist
func (db *DB) ensureSchema() error {
	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the on-disk path of the database ("" for in-memory)
func (db *DB) Path() string {
	if strings.HasPrefix(db.path, "file:") {
		return ""
	}
	return db.path
}

// Vacuum reclaims free pages. Called from nightly maintenance.
func (db *DB) Vacuum(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, "PRAGMA incremental_vacuum")
	return err
}

// SnapshotTo writes a consistent copy of the database to destPath
// using VACUUM INTO. The destination must not already exist.
func (db *DB) SnapshotTo(ctx context.Context, destPath string) error {
	_, err := db.conn.ExecContext(ctx, "VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS journal_events (
	seq     INTEGER PRIMARY KEY,
	id      TEXT    NOT NULL,
	ts      INTEGER NOT NULL,
	domain  TEXT    NOT NULL,
	type    TEXT    NOT NULL,
	version INTEGER NOT NULL,
	source  TEXT    NOT NULL DEFAULT '',
	body    BLOB
);
CREATE INDEX IF NOT EXISTS idx_journal_events_domain ON journal_events(domain);

CREATE TABLE IF NOT EXISTS journal_versions (
	domain  TEXT PRIMARY KEY,
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_meta (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS budget_state (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	body       BLOB    NOT NULL,
	updated_at INTEGER NOT NULL
);
`
