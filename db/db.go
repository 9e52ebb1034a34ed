package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Executor defines the minimal interface for executing database operations.
type Executor interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// DB represents a database connection that implements the Executor interface.
// It can be passed to repository constructors to create repository instances.
type DB struct {
	conn *sql.DB
}

// Exec executes a query without returning any rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that is expected to return at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// NewSqliteDB opens (creating if needed) the transfer history database.
func NewSqliteDB(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sessions update from many goroutines; sqlite serializes writers anyway
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS downloads (
		id TEXT PRIMARY KEY,
		peer TEXT NOT NULL,
		item TEXT NOT NULL,
		status TEXT NOT NULL,
		bytes_received INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_downloads_item ON downloads(item);
	CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status);
	CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at DESC);

	CREATE TABLE IF NOT EXISTS uploads (
		id TEXT PRIMARY KEY,
		peer TEXT NOT NULL,
		item TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		bytes_sent INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_item ON uploads(item);
	CREATE INDEX IF NOT EXISTS idx_uploads_status ON uploads(status);
	CREATE INDEX IF NOT EXISTS idx_uploads_created_at ON uploads(created_at DESC);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// DefaultDBPath is ~/.vsfy/history.db, falling back to the working directory.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".vsfy", "history.db")
}
