package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SqliteStore stores all collections in a single SQLite database.
//
// Tables:
//
//	collections(name, data)  PRIMARY KEY (name), data is the JSON array
type SqliteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) Load(collection string) ([]Record, error) {
	if !ValidName(collection) {
		return nil, &ReadError{Collection: collection, Err: ErrInvalidName}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw string
	err := s.db.QueryRow("SELECT data FROM collections WHERE name = ?", collection).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ReadError{Collection: collection, Err: fs.ErrNotExist}
	}
	if err != nil {
		return nil, &ReadError{Collection: collection, Err: err}
	}
	records, err := decodeRecords([]byte(raw))
	if err != nil {
		return nil, &ReadError{Collection: collection, Err: err}
	}
	return records, nil
}

func (s *SqliteStore) Save(collection string, records []Record) error {
	if !ValidName(collection) {
		return &WriteError{Collection: collection, Err: ErrInvalidName}
	}
	b, err := encodeRecords(records)
	if err != nil {
		return &WriteError{Collection: collection, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO collections (name, data) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data`,
		collection, string(b),
	)
	if err != nil {
		return &WriteError{Collection: collection, Err: err}
	}
	return nil
}

func (s *SqliteStore) Ensure(collection string) error {
	if !ValidName(collection) {
		return &WriteError{Collection: collection, Err: ErrInvalidName}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO collections (name, data) VALUES (?, '[]')
		 ON CONFLICT(name) DO NOTHING`,
		collection,
	)
	if err != nil {
		return &WriteError{Collection: collection, Err: err}
	}
	return nil
}

func (s *SqliteStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query("SELECT name FROM collections ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
