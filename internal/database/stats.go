// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/streamhouse/eventfold/internal/metrics"
	"github.com/streamhouse/eventfold/internal/models"
)

// LockStats acquires the row-level exclusive lock on the stats singleton
// and returns the current counters. The lock is held until tx commits or
// rolls back, serialising all counter mutations.
func (db *DB) LockStats(ctx context.Context, tx *sqlx.Tx) (*models.EventStats, error) {
	var stats models.EventStats
	err := tx.GetContext(ctx, &stats, `
		SELECT id, received, unique_processed, duplicate_dropped, last_updated
		FROM event_stats
		WHERE id = $1
		FOR UPDATE
	`, models.StatsRowID)
	if err != nil {
		metrics.RecordDBError("lock_stats")
		return nil, fmt.Errorf("lock stats row: %w", err)
	}
	return &stats, nil
}

// ApplyStatsDelta increments the counters inside tx. The caller must hold
// the stats lock via LockStats in the same transaction.
func (db *DB) ApplyStatsDelta(ctx context.Context, tx *sqlx.Tx, received, unique, duplicate int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE event_stats
		SET received          = received + $2,
		    unique_processed  = unique_processed + $3,
		    duplicate_dropped = duplicate_dropped + $4,
		    last_updated      = now()
		WHERE id = $1
	`, models.StatsRowID, received, unique, duplicate)
	if err != nil {
		metrics.RecordDBError("apply_stats_delta")
		return fmt.Errorf("update stats counters: %w", err)
	}
	return nil
}

// GetStats returns the counter snapshot without taking the row lock.
// The query surface must never contend with the dedup workers.
func (db *DB) GetStats(ctx context.Context) (*models.EventStats, error) {
	var stats models.EventStats
	err := db.pool.GetContext(ctx, &stats, `
		SELECT id, received, unique_processed, duplicate_dropped, last_updated
		FROM event_stats
		WHERE id = $1
	`, models.StatsRowID)
	if err != nil {
		metrics.RecordDBError("get_stats")
		return nil, fmt.Errorf("read stats row: %w", err)
	}
	return &stats, nil
}
