// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

package models

import "time"

// ProcessedEvent is the durable row created by a successful dedup insertion.
// (topic, event_id) is globally unique; rows are never mutated or deleted.
type ProcessedEvent struct {
	ID          int64     `db:"id" json:"-"`
	Topic       string    `db:"topic" json:"topic"`
	EventID     string    `db:"event_id" json:"event_id"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Source      string    `db:"source" json:"source"`
	Payload     JSONMap   `db:"payload" json:"payload"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}

// StatsRowID is the fixed identity of the stats singleton row.
const StatsRowID = 1

// EventStats is the singleton counter row, keyed by StatsRowID.
// It is created exactly once at store initialisation and thereafter
// mutated only under a row-level exclusive lock.
//
// At every committed boundary:
//
//	received >= unique_processed + duplicate_dropped
//
// with equality when no event ended in error.
type EventStats struct {
	ID               int64      `db:"id" json:"-"`
	Received         int64      `db:"received" json:"received"`
	UniqueProcessed  int64      `db:"unique_processed" json:"unique_processed"`
	DuplicateDropped int64      `db:"duplicate_dropped" json:"duplicate_dropped"`
	LastUpdated      *time.Time `db:"last_updated" json:"last_updated,omitempty"`
}

// Audit actions, one per dedup attempt outcome.
const (
	AuditActionProcessed = "processed"
	AuditActionDuplicate = "duplicate"
	AuditActionError     = "error"
)

// AuditLog is an append-only record of one dedup attempt.
type AuditLog struct {
	ID         int64     `db:"id" json:"-"`
	EventTopic string    `db:"event_topic" json:"event_topic"`
	EventID    string    `db:"event_id" json:"event_id"`
	Action     string    `db:"action" json:"action"`
	Details    JSONMap   `db:"details" json:"details,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
