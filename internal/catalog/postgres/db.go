// Package postgres implements the catalog contract on top of PostgreSQL
// via pgx. One repository type per catalog table, following the same
// query/scan/wrap-error shape throughout.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool shared by every repository in this
// package.
type DB struct {
	Pool *pgxpool.Pool
}

// Open connects to PostgreSQL using dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog/postgres: parse config: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog/postgres: ping: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close releases the pool's connections.
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping satisfies handler.DatabaseChecker.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// WithTx runs fn inside a transaction opened with opts, committing on
// success and rolling back on any error or panic.
func (db *DB) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := db.Pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("catalog/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("catalog/postgres: commit tx: %w", err)
	}
	return nil
}

// uniqueViolationCode is the PostgreSQL error code for a unique-constraint
// violation.
const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	return false
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
