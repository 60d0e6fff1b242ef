// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

package database

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/streamhouse/eventfold/internal/logging"
	"github.com/streamhouse/eventfold/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Init applies pending schema migrations and seeds the stats singleton.
// Safe to call on every startup; both steps are idempotent.
func (db *DB) Init(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.pool.DB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	if err := db.ensureStatsRow(ctx); err != nil {
		return err
	}

	logging.Info().Msg("Database initialized")
	return nil
}

// ensureStatsRow creates the counter singleton exactly once.
func (db *DB) ensureStatsRow(ctx context.Context) error {
	_, err := db.pool.ExecContext(ctx, `
		INSERT INTO event_stats (id, received, unique_processed, duplicate_dropped)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (id) DO NOTHING
	`, models.StatsRowID)
	if err != nil {
		return fmt.Errorf("seed stats row: %w", err)
	}
	return nil
}
