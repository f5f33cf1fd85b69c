// Package db provides the SQLite connection and schema for tempod.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Cycle ledger - append-only audit history, several events per wake cycle.
	// It is never read back to seed a cycle.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cycle_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			device TEXT,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_cycle_ledger_cycle ON cycle_ledger(cycle_id);
		CREATE INDEX IF NOT EXISTS idx_cycle_ledger_type_ts ON cycle_ledger(event_type, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create cycle_ledger table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
