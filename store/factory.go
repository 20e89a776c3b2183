package store

import (
	"errors"
	"fmt"
	"path/filepath"
)

// New creates a Store based on the backend name.
//
// Supported backends:
//
//	"json"     - one JSON file per collection in dataDir (default)
//	"sqlite"   - SQLite database at dataDir/collections.db
//	"postgres" - PostgreSQL at dsn
//	"memory"   - In-memory (ephemeral, for testing)
func New(backend, dataDir, dsn string) (Store, error) {
	switch backend {
	case "json", "":
		return NewJsonFileStore(dataDir)
	case "sqlite":
		dbPath := filepath.Join(dataDir, "collections.db")
		return NewSqliteStore(dbPath)
	case "postgres":
		if dsn == "" {
			return nil, errors.New("postgres backend requires a database URL")
		}
		return NewPostgresStore(dsn)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: json, sqlite, postgres, memory)", backend)
	}
}
