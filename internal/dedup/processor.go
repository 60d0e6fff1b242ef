// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

// Package dedup implements the idempotent consumer protocol.
//
// The unique index on (topic, event_id) is the single source of truth for
// duplicate detection. The processor attempts the insert and classifies the
// result; it never pre-checks for existence, because under concurrent
// workers two readers can both miss the key and both attempt the insert —
// only the constraint resolves that race. No application-level lock keyed
// by (topic, event_id) exists anywhere in this package, and none may be
// added.
package dedup

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/streamhouse/eventfold/internal/database"
	"github.com/streamhouse/eventfold/internal/logging"
	"github.com/streamhouse/eventfold/internal/models"
)

// Outcome classifies one dedup protocol run.
type Outcome string

const (
	// OutcomeProcessed means the event's durable row was inserted.
	OutcomeProcessed Outcome = "processed"

	// OutcomeDuplicate means the dedup key already existed; the event was
	// counted and audited but not stored.
	OutcomeDuplicate Outcome = "duplicate"

	// OutcomeError means the attempt failed and was rolled back.
	OutcomeError Outcome = "error"
)

// Processor runs the dedup protocol. It holds no state between calls;
// every invocation opens its own transactions against the store.
type Processor struct {
	db *database.DB
}

// New creates a dedup processor over the store.
func New(db *database.DB) *Processor {
	return &Processor{db: db}
}

// Process runs one dedup attempt for a validated event.
//
// Returns (true, OutcomeProcessed) when the row was inserted and the
// counters committed; (true, OutcomeDuplicate) when the unique constraint
// rejected the insert; (false, OutcomeError) otherwise. Both counters and
// the audit trail reflect only what actually committed.
func (p *Processor) Process(ctx context.Context, event *models.Event) (bool, Outcome) {
	// The validator accepted this timestamp, so a failure here is a
	// processing error, not a validation failure.
	ts, err := event.ParsedTimestamp()
	if err != nil {
		p.recordError(ctx, event, err)
		return false, OutcomeError
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		p.recordError(ctx, event, err)
		return false, OutcomeError
	}

	row := &models.ProcessedEvent{
		Topic:     event.Topic,
		EventID:   event.EventID,
		Timestamp: ts,
		Source:    event.Source,
		Payload:   event.Payload,
	}

	if err := p.db.InsertProcessedEvent(ctx, tx, row); err != nil {
		// The constraint violation poisons the transaction; roll it back
		// before any further work either way.
		rollback(tx)

		if database.IsUniqueViolation(err) {
			p.recordDuplicate(ctx, event)
			logging.Ctx(ctx).Info().
				Str("event", event.DedupKey()).
				Msg("Duplicate detected (idempotent)")
			return true, OutcomeDuplicate
		}

		p.recordError(ctx, event, err)
		return false, OutcomeError
	}

	// Insert succeeded: counters and the audit row commit atomically with it.
	if err := p.finishProcessed(ctx, tx, event); err != nil {
		rollback(tx)
		p.recordError(ctx, event, err)
		return false, OutcomeError
	}

	logging.Ctx(ctx).Info().
		Str("event", event.DedupKey()).
		Msg("Processed new event")
	return true, OutcomeProcessed
}

// finishProcessed locks the stats singleton, applies the processed deltas,
// appends the audit record, and commits.
func (p *Processor) finishProcessed(ctx context.Context, tx *sqlx.Tx, event *models.Event) error {
	if _, err := p.db.LockStats(ctx, tx); err != nil {
		return err
	}
	if err := p.db.ApplyStatsDelta(ctx, tx, 1, 1, 0); err != nil {
		return err
	}
	details := models.JSONMap{"source": event.Source}
	if err := p.db.InsertAudit(ctx, tx, event.Topic, event.EventID, models.AuditActionProcessed, details); err != nil {
		return err
	}
	return tx.Commit()
}

// recordDuplicate accounts for a duplicate in a fresh transaction. The
// original transaction is unrecoverable after the constraint violation, so
// the duplicate counter and its audit row commit on their own.
func (p *Processor) recordDuplicate(ctx context.Context, event *models.Event) {
	err := p.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := p.db.LockStats(ctx, tx); err != nil {
			return err
		}
		if err := p.db.ApplyStatsDelta(ctx, tx, 1, 0, 1); err != nil {
			return err
		}
		details := models.JSONMap{"reason": "unique_constraint_violation"}
		return p.db.InsertAudit(ctx, tx, event.Topic, event.EventID, models.AuditActionDuplicate, details)
	})
	if err != nil {
		logging.Ctx(ctx).Err(err).
			Str("event", event.DedupKey()).
			Msg("Failed to record duplicate outcome")
	}
}

// recordError writes the error audit in a fresh, separately committed
// transaction so that evidence of the failure survives the rollback of the
// failed work. Best effort: a secondary failure here is swallowed.
func (p *Processor) recordError(ctx context.Context, event *models.Event, cause error) {
	logging.Ctx(ctx).Err(cause).
		Str("event", event.DedupKey()).
		Msg("Error processing event")

	auditErr := p.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		details := models.JSONMap{"error": cause.Error()}
		return p.db.InsertAudit(ctx, tx, event.Topic, event.EventID, models.AuditActionError, details)
	})
	if auditErr != nil {
		logging.Ctx(ctx).Err(auditErr).
			Str("event", event.DedupKey()).
			Msg("Failed to write error audit record")
	}
}

// rollback restores the session to a usable state, tolerating
// already-finalized transactions.
func rollback(tx *sqlx.Tx) {
	_ = tx.Rollback()
}
