// Package store is the crash-safe persistence layer: a single sqlite
// database file in WAL mode, a process-level advisory lock enforcing one
// writer per database, and a Unit-of-Work transaction abstraction that
// every repository is built on (spec section 4.C). Grounded on the
// teacher's internal/engine/simple/store_sqlite.go, generalized from a
// single-row state blob into a full relational schema.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store owns the sqlite connection and the tables defined in schema.go.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the sqlite database at path, enables
// WAL journaling for crash recovery, and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// a single writer connection avoids SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path the store was opened against.
func (s *Store) Path() string { return s.path }

// Close releases the underlying sqlite connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies liveness of the underlying connection, used by startup
// preflight checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
