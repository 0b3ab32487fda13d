// Package store provides SQLite persistence for the conduit engine:
// events, knowledge records, team roles, API credentials, permissions
// and settings. All writes are synchronous; a mutating call does not
// return until the row is durably applied.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Thaura644/llm-conduit/internal/logging"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database behind a single-writer discipline.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// DefaultPath returns the database path: $CONDUIT_DATABASE_PATH if set,
// else ~/.llm-conduit/conduit.db.
func DefaultPath() string {
	if p := os.Getenv("CONDUIT_DATABASE_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".llm-conduit", "conduit.db")
}

// Open initializes the SQLite database at the given path, creating the
// schema if needed.
func Open(path string) (*Store, error) {
	logging.Store("Opening store at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// Writes must be durable before the caller is acknowledged, so keep
	// synchronous=FULL rather than trading durability for throughput.
	if _, err := db.Exec("PRAGMA synchronous = FULL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=FULL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		type TEXT,
		timestamp INTEGER,
		data TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, timestamp);

	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		category TEXT,
		content TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS team_roles (
		role TEXT PRIMARY KEY,
		model TEXT,
		provider TEXT,
		powers TEXT,
		prompt TEXT,
		tools TEXT
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		provider TEXT PRIMARY KEY,
		key TEXT,
		base_url TEXT
	);

	CREATE TABLE IF NOT EXISTS security_permissions (
		path TEXT PRIMARY KEY,
		access_level TEXT,
		status TEXT,
		updated_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS conduit_settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.StoreDebug("Schema initialized")
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
