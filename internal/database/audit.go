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

// InsertAudit appends one audit record inside tx. Exactly one audit row is
// written per dedup attempt, in the same transaction as the outcome it
// records (or a separately committed one for error outcomes).
func (db *DB) InsertAudit(ctx context.Context, tx *sqlx.Tx, topic, eventID, action string, details models.JSONMap) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (event_topic, event_id, action, details)
		VALUES ($1, $2, $3, $4)
	`, topic, eventID, action, details)
	if err != nil {
		metrics.RecordDBError("insert_audit")
		return fmt.Errorf("insert audit record %s/%s: %w", topic, eventID, err)
	}
	return nil
}

// ListAuditLogs returns audit records ordered by created_at descending,
// optionally filtered by action.
func (db *DB) ListAuditLogs(ctx context.Context, action string, limit, offset int) ([]models.AuditLog, error) {
	var (
		rows []models.AuditLog
		err  error
	)
	if action != "" {
		err = db.pool.SelectContext(ctx, &rows, `
			SELECT id, event_topic, event_id, action, details, created_at
			FROM audit_logs
			WHERE action = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`, action, limit, offset)
	} else {
		err = db.pool.SelectContext(ctx, &rows, `
			SELECT id, event_topic, event_id, action, details, created_at
			FROM audit_logs
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		metrics.RecordDBError("list_audit_logs")
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return rows, nil
}
