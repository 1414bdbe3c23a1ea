// Package database persists write-session history and mirror downloads in
// SQLite.
//
// The database uses WAL mode so the history command can read while a running
// writer records sessions.
//
// # Usage Example
//
//	db, err := database.New(database.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	recent, err := db.ListSessions(ctx, 20)
//
// # Schema
//
// The database maintains two tables:
//   - write_sessions: one row per finished write session
//   - downloads: ISO images fetched from the S3 mirror
//
// See schema.go for complete table definitions and indexes.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// DB wraps the SQL database with helper methods for session history.
type DB struct {
	db   *sql.DB
	path string
}

// Config holds database configuration.
type Config struct {
	// Path to the SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a default database configuration under the user's
// cache directory.
func DefaultConfig() Config {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return Config{
		Path:            filepath.Join(dir, "usbwriter", "history.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// New opens the database, creating the parent directory when needed, and
// applies pending migrations.
//
// SQLite is configured with:
//   - WAL journal for concurrent readers
//   - NORMAL synchronous mode
//   - 5-second busy timeout
func New(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	d := &DB{db: db, path: cfg.Path}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping verifies the database connection is alive.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
