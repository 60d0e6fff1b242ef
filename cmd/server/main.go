// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

// Command server runs the aggregator: the subscription consumer feeding
// the dedup protocol, and the HTTP facade, both under one supervisor tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamhouse/eventfold/internal/api"
	"github.com/streamhouse/eventfold/internal/bus"
	"github.com/streamhouse/eventfold/internal/config"
	"github.com/streamhouse/eventfold/internal/consumer"
	"github.com/streamhouse/eventfold/internal/database"
	"github.com/streamhouse/eventfold/internal/dedup"
	"github.com/streamhouse/eventfold/internal/logging"
	"github.com/streamhouse/eventfold/internal/supervisor"
)

// Build information, injected via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "eventfold: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("commit", commit).
		Str("channel", cfg.Redis.Channel).
		Int("workers", cfg.Consumer.NumWorkers).
		Msg("Starting eventfold")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Err(err).Msg("Error closing database pool")
		}
	}()

	if err := db.Init(ctx); err != nil {
		return err
	}

	client, err := bus.NewClient(cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logging.Err(err).Msg("Error closing bus client")
		}
	}()

	publisher := bus.NewPublisher(client, cfg.Redis.Channel)
	processor := dedup.New(db)
	cons := consumer.New(client, cfg.Redis.Channel, cfg.Consumer.NumWorkers, processor)

	// The HTTP drain must finish inside the supervisor's stop budget.
	treeCfg := supervisor.DefaultTreeConfig()
	server := api.NewServer(cfg.Server, db, publisher, version, treeCfg.ShutdownTimeout-2*time.Second)

	tree := supervisor.NewTree(logging.Slog(), treeCfg)
	tree.AddPipelineService(cons)
	tree.AddAPIService(server)

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logging.Info().Msg("Shutdown complete")
	return nil
}
