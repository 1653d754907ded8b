// Package sqlite implements the catalog contract on top of an embedded
// SQLite database via modernc.org/sqlite, for single-node deployments and
// tests that don't want a PostgreSQL instance. It mirrors the
// catalog/postgres query/scan/wrap-error shape, swapped to database/sql's
// "?" placeholders.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps a database/sql handle over the sqlite driver.
type DB struct {
	Conn *sql.DB
}

// Open opens (and, if absent, creates) the SQLite database at path and
// applies the catalog schema.
func Open(ctx context.Context, path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog/sqlite: open %s: %w", path, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog/sqlite: ping: %w", err)
	}
	// SQLite serializes writers; a single connection avoids "database is
	// locked" errors under concurrent access from this process.
	conn.SetMaxOpenConns(1)

	db := &DB{Conn: conn}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.Conn.Close()
}

// Ping satisfies handler.DatabaseChecker.
func (db *DB) Ping(ctx context.Context) error {
	return db.Conn.PingContext(ctx)
}

func (db *DB) migrate(ctx context.Context) error {
	_, err := db.Conn.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("catalog/sqlite: migrate: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS repositories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS releases (
	id TEXT NOT NULL,
	repo_id TEXT NOT NULL,
	definition BLOB NOT NULL,
	checksum BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (repo_id, id)
);

CREATE TABLE IF NOT EXISTS file_definitions (
	file_hash BLOB PRIMARY KEY,
	length INTEGER NOT NULL,
	chunks BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_sessions (
	id TEXT PRIMARY KEY,
	repo_id TEXT NOT NULL,
	intended_release TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS api_tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_id TEXT NOT NULL,
	token_id TEXT NOT NULL UNIQUE,
	encrypted_secret BLOB NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP,
	last_used_at TIMESTAMP
);
`

// isUniqueViolation reports whether err came from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
