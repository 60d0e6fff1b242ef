// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

// Package database is the durable store adapter over Postgres.
//
// It owns the pooled connection factory, the scoped transaction helper, the
// row-level exclusive lock over the stats singleton, and the queries backing
// the dedup protocol and the query surface. Transactions run at the
// configured isolation level, SERIALIZABLE by default.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/streamhouse/eventfold/internal/config"
	"github.com/streamhouse/eventfold/internal/logging"
)

// uniqueViolationCode is the Postgres SQLSTATE for unique_violation.
const uniqueViolationCode = "23505"

// DB wraps the sqlx pool with the store's transaction discipline.
type DB struct {
	pool      *sqlx.DB
	isolation sql.IsolationLevel
}

// New opens the connection pool and verifies connectivity.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	pool, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool.SetMaxOpenConns(cfg.MaxConnections())
	pool.SetMaxIdleConns(cfg.PoolSize)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logging.Info().
		Int("pool_size", cfg.PoolSize).
		Int("max_overflow", cfg.MaxOverflow).
		Str("isolation", cfg.IsolationLevel).
		Msg("Database pool opened")

	return &DB{pool: pool, isolation: cfg.SQLIsolationLevel()}, nil
}

// NewWithPool wraps an existing sqlx pool. Used by tests that substitute a
// sqlmock-backed pool for a live server.
func NewWithPool(pool *sqlx.DB, isolation sql.IsolationLevel) *DB {
	return &DB{pool: pool, isolation: isolation}
}

// Pool exposes the underlying sqlx pool for read-only queries.
func (db *DB) Pool() *sqlx.DB {
	return db.pool
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.pool.Close()
}

// HealthCheck probes the store using the driver's idiomatic ping.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.pool.PingContext(ctx)
}

// Begin opens a transaction at the configured isolation level. The caller
// owns commit and rollback; prefer WithTx for the scoped form.
func (db *DB) Begin(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := db.pool.BeginTxx(ctx, &sql.TxOptions{Isolation: db.isolation})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

// WithTx runs fn inside a transaction: committed on normal return, rolled
// back when fn returns an error.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logging.Err(rbErr).Msg("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is the Postgres unique-constraint
// violation. The unique index on (topic, event_id) is the dedup protocol's
// source of truth, so this classification decides processed vs duplicate.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode
}
