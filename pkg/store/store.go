package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Store wraps a SQLite database holding all persistent relay state.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (creating if necessary) the database at path and runs the
// schema migration. Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: SQLite allows one writer, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT,
		email TEXT,
		federated_id TEXT UNIQUE,
		created_at DATETIME NOT NULL,
		CHECK (password_hash IS NOT NULL OR federated_id IS NOT NULL)
	);

	CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_user_id INTEGER NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('host', 'client')),
		last_seen_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pairing_codes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_user_id INTEGER NOT NULL REFERENCES users(id),
		host_device_id INTEGER NOT NULL REFERENCES devices(id),
		code TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pairings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host_device_id INTEGER NOT NULL REFERENCES devices(id),
		client_device_id INTEGER NOT NULL REFERENCES devices(id),
		created_at DATETIME NOT NULL,
		UNIQUE (host_device_id, client_device_id)
	);

	CREATE TABLE IF NOT EXISTS message_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_device_id INTEGER NOT NULL REFERENCES devices(id),
		to_device_id INTEGER NOT NULL REFERENCES devices(id),
		msg_kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host_device_id INTEGER NOT NULL REFERENCES devices(id),
		from_device_id INTEGER NOT NULL REFERENCES devices(id),
		payload TEXT NOT NULL,
		delivered INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_devices_owner ON devices(owner_user_id);
	CREATE INDEX IF NOT EXISTS idx_pairing_codes_code ON pairing_codes(code);
	CREATE INDEX IF NOT EXISTS idx_pairing_codes_host ON pairing_codes(host_device_id, used);
	CREATE INDEX IF NOT EXISTS idx_pairings_host ON pairings(host_device_id);
	CREATE INDEX IF NOT EXISTS idx_pairings_client ON pairings(client_device_id);
	CREATE INDEX IF NOT EXISTS idx_message_logs_from ON message_logs(from_device_id);
	CREATE INDEX IF NOT EXISTS idx_message_logs_to ON message_logs(to_device_id);
	CREATE INDEX IF NOT EXISTS idx_message_logs_created ON message_logs(created_at);
	CREATE INDEX IF NOT EXISTS idx_pending_host ON pending_commands(host_device_id, delivered);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isConstraint reports whether err is a SQLite uniqueness or check
// constraint violation.
func isConstraint(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

// utc normalizes a timestamp so that stored values compare consistently.
func utc(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC()
}
