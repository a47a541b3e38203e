// Package store persists reusable credentials and client settings in a
// local SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the on-disk cache. Safe for concurrent use; database/sql
// serializes access to the single SQLite connection.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
	CREATE TABLE IF NOT EXISTS credentials (
		username   TEXT PRIMARY KEY,
		device_id  TEXT NOT NULL,
		token      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

// Open opens (creating if needed) the cache database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "cadenza.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// SaveToken stores (or replaces) the reusable token for an account.
func (s *Store) SaveToken(username, deviceID string, token []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO credentials (username, device_id, token, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
		 	device_id = excluded.device_id,
		 	token = excluded.token,
		 	updated_at = excluded.updated_at`,
		username, deviceID, token, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// LoadToken returns the stored token for an account.
func (s *Store) LoadToken(username string) ([]byte, error) {
	var token []byte
	err := s.db.QueryRow(
		`SELECT token FROM credentials WHERE username = ?`, username,
	).Scan(&token)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	return token, nil
}

// LastUsername returns the most recently updated account, for clients
// started without an explicit username.
func (s *Store) LastUsername() (string, error) {
	var username string
	err := s.db.QueryRow(
		`SELECT username FROM credentials ORDER BY updated_at DESC LIMIT 1`,
	).Scan(&username)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("last username: %w", err)
	}
	return username, nil
}

// DeleteToken removes the stored token for an account. Deleting a token
// that does not exist is not an error.
func (s *Store) DeleteToken(username string) error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// SetSetting stores a key/value setting.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// GetSetting returns a stored setting.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
