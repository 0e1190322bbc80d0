// Package database opens the SQLite cache store and runs schema migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const pragmas = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// Open opens the cache database at path with WAL mode enabled, creating the
// parent directory on first run. Pass ":memory:" for an ephemeral database.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+pragmas)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// under concurrent merges.
	db.SetMaxOpenConns(1)

	return db, nil
}
