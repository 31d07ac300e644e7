// Package db provides the station's local SQLite database and the durable
// key/value storage built on it.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "checkin-station.db"

// DB wraps the sql.DB with station-specific configuration.
type DB struct {
	*sql.DB
	Path string
}

// Open opens the station SQLite database in dataDir.
// The database is opened with:
// - WAL mode so the API can read while the sync pass writes
// - a busy timeout so a concurrent writer waits instead of failing
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)

	// modernc.org/sqlite is pure Go, no CGO
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &DB{DB: db, Path: dbPath}, nil
}

// OpenAndMigrate opens the database and applies the embedded migrations.
func OpenAndMigrate(dataDir string) (*DB, error) {
	database, err := Open(dataDir)
	if err != nil {
		return nil, err
	}

	migrator := NewMigrator(database.DB, Migrations())
	if err := migrator.Initialize(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := migrator.Up(); err != nil {
		database.Close()
		return nil, err
	}

	return database, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// RollbackLast reverts the newest applied migration of the database in
// dataDir and returns the schema version left in place.
func RollbackLast(dataDir string) (int, error) {
	database, err := Open(dataDir)
	if err != nil {
		return 0, err
	}
	defer database.Close()

	migrator := NewMigrator(database.DB, Migrations())
	if err := migrator.Initialize(); err != nil {
		return 0, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := migrator.Down(); err != nil {
		return 0, err
	}
	return migrator.CurrentVersion()
}
