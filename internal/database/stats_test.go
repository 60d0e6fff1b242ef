// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/streamhouse/eventfold/internal/models"
)

var statsColumns = []string{"id", "received", "unique_processed", "duplicate_dropped", "last_updated"}

func TestLockStats(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM event_stats\\s+WHERE id = (.+) FOR UPDATE").
		WithArgs(models.StatsRowID).
		WillReturnRows(sqlmock.NewRows(statsColumns).
			AddRow(int64(1), int64(10), int64(7), int64(3), now))

	tx, err := db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	stats, err := db.LockStats(context.Background(), tx)
	if err != nil {
		t.Fatalf("LockStats() error = %v", err)
	}
	if stats.Received != 10 || stats.UniqueProcessed != 7 || stats.DuplicateDropped != 3 {
		t.Errorf("stats = %+v, want 10/7/3", stats)
	}
	// Committed invariant: received accounts for every classified event.
	if stats.Received < stats.UniqueProcessed+stats.DuplicateDropped {
		t.Errorf("invariant violated: received %d < unique %d + duplicate %d",
			stats.Received, stats.UniqueProcessed, stats.DuplicateDropped)
	}
	expectationsMet(t, mock)
}

func TestApplyStatsDelta(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE event_stats").
		WithArgs(models.StatsRowID, int64(1), int64(0), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tx, err := db.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := db.ApplyStatsDelta(context.Background(), tx, 1, 0, 1); err != nil {
		t.Fatalf("ApplyStatsDelta() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestGetStats(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM event_stats").
		WithArgs(models.StatsRowID).
		WillReturnRows(sqlmock.NewRows(statsColumns).
			AddRow(int64(1), int64(100), int64(60), int64(40), now))

	stats, err := db.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.Received != 100 {
		t.Errorf("Received = %d, want 100", stats.Received)
	}
	if stats.LastUpdated == nil || !stats.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", stats.LastUpdated, now)
	}
	expectationsMet(t, mock)
}

func TestGetStatsNullLastUpdated(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM event_stats").
		WithArgs(models.StatsRowID).
		WillReturnRows(sqlmock.NewRows(statsColumns).
			AddRow(int64(1), int64(0), int64(0), int64(0), nil))

	stats, err := db.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.LastUpdated != nil {
		t.Errorf("LastUpdated = %v, want nil before first event", stats.LastUpdated)
	}
	expectationsMet(t, mock)
}
