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

// InsertProcessedEvent writes the durable row inside tx. The statement
// executes eagerly, so a unique-constraint violation on (topic, event_id)
// surfaces here rather than at commit time; callers classify it with
// IsUniqueViolation.
func (db *DB) InsertProcessedEvent(ctx context.Context, tx *sqlx.Tx, row *models.ProcessedEvent) error {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO processed_events (topic, event_id, "timestamp", source, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, processed_at
	`, row.Topic, row.EventID, row.Timestamp, row.Source, row.Payload).
		Scan(&row.ID, &row.ProcessedAt)
	if err != nil {
		if !IsUniqueViolation(err) {
			metrics.RecordDBError("insert_processed_event")
		}
		return fmt.Errorf("insert processed event %s/%s: %w", row.Topic, row.EventID, err)
	}
	return nil
}

// ListProcessedEvents returns processed events ordered by processed_at
// descending, optionally filtered by topic. Read-only; never touches the
// stats row-lock.
func (db *DB) ListProcessedEvents(ctx context.Context, topic string, limit, offset int) ([]models.ProcessedEvent, error) {
	var (
		rows []models.ProcessedEvent
		err  error
	)
	if topic != "" {
		err = db.pool.SelectContext(ctx, &rows, `
			SELECT id, topic, event_id, "timestamp", source, payload, processed_at
			FROM processed_events
			WHERE topic = $1
			ORDER BY processed_at DESC
			LIMIT $2 OFFSET $3
		`, topic, limit, offset)
	} else {
		err = db.pool.SelectContext(ctx, &rows, `
			SELECT id, topic, event_id, "timestamp", source, payload, processed_at
			FROM processed_events
			ORDER BY processed_at DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		metrics.RecordDBError("list_processed_events")
		return nil, fmt.Errorf("list processed events: %w", err)
	}
	return rows, nil
}

// ListTopics returns the distinct set of topics with at least one
// processed event.
func (db *DB) ListTopics(ctx context.Context) ([]string, error) {
	var topics []string
	err := db.pool.SelectContext(ctx, &topics, `
		SELECT DISTINCT topic FROM processed_events ORDER BY topic
	`)
	if err != nil {
		metrics.RecordDBError("list_topics")
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

// CountDistinctTopics returns the number of distinct topics.
func (db *DB) CountDistinctTopics(ctx context.Context) (int64, error) {
	var count int64
	err := db.pool.GetContext(ctx, &count, `
		SELECT COUNT(DISTINCT topic) FROM processed_events
	`)
	if err != nil {
		metrics.RecordDBError("count_topics")
		return 0, fmt.Errorf("count distinct topics: %w", err)
	}
	return count, nil
}
