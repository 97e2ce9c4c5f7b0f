// Package db opens the fusion telemetry database and manages its schema.
// The database stores delay calibration profiles, trust score history and
// fault events; the numeric pipeline itself never touches SQL directly.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL handle so store constructors take one concrete type.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the SQLite database at path and applies
// the connection pragmas. Call MigrateUp before handing the DB to stores.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// WAL allows the fusion pipeline to read profiles while trust
	// history writes are in flight.
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA foreign_keys = ON;",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	return &DB{sqlDB}, nil
}
