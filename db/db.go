package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at TEXT NOT NULL,
		fan INTEGER NOT NULL,
		fan_name TEXT NOT NULL,
		temperature INTEGER NOT NULL,
		step INTEGER NOT NULL,
		speed INTEGER NOT NULL,
		rpm INTEGER NOT NULL DEFAULT -1,
		written BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_taken_at ON samples (taken_at)`,
	`CREATE TABLE IF NOT EXISTS applies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		applied_at TEXT NOT NULL,
		model TEXT NOT NULL,
		author TEXT NOT NULL,
		writes INTEGER NOT NULL,
		ok BOOLEAN NOT NULL,
		error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`,
}

// Open opens (creating if needed) the history database at path and brings
// its schema up to date. ":memory:" is accepted for tests.
func Open(path string) (*sql.DB, error) {
	dbConn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across the pool.
	dbConn.SetMaxOpenConns(1)

	if err := ApplyMigrations(dbConn); err != nil {
		dbConn.Close()
		return nil, err
	}
	return dbConn, nil
}

func ApplyMigrations(db *sql.DB) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			RollbackTransaction(tx)
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return CommitTransaction(tx)
}
