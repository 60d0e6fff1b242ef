// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

// Command publisher is a synthetic load generator. It publishes randomly
// generated events to the bus, re-publishing a configurable fraction as
// duplicates so the dedup counters can be verified end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/streamhouse/eventfold/internal/bus"
	"github.com/streamhouse/eventfold/internal/config"
	"github.com/streamhouse/eventfold/internal/logging"
	"github.com/streamhouse/eventfold/internal/models"
)

func main() {
	var (
		count     = flag.Int("count", 100, "number of publish attempts")
		dupeRatio = flag.Float64("duplicate-ratio", 0.3, "fraction of attempts that re-publish an earlier event")
		delay     = flag.Duration("delay", 50*time.Millisecond, "pause between publishes")
		topicsArg = flag.String("topics", "orders,payments,shipments", "comma-separated topic pool")
		source    = flag.String("source", "load-generator", "event source label")
	)
	flag.Parse()

	if err := run(*count, *dupeRatio, *delay, strings.Split(*topicsArg, ","), *source); err != nil {
		fmt.Fprintf(os.Stderr, "publisher: %v\n", err)
		os.Exit(1)
	}
}

func run(count int, dupeRatio float64, delay time.Duration, topics []string, source string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := bus.NewClient(cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer client.Close()

	publisher := bus.NewPublisher(client, cfg.Redis.Channel)

	logging.Info().
		Str("channel", cfg.Redis.Channel).
		Int("count", count).
		Float64("duplicate_ratio", dupeRatio).
		Msg("Publishing synthetic events")

	var (
		published  int
		duplicates int
		history    []models.Event
	)

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			logging.Warn().Int("published", published).Msg("Interrupted")
			return nil
		}

		event := nextEvent(&history, dupeRatio, topics, source, &duplicates)
		if err := publisher.Publish(ctx, event); err != nil {
			return fmt.Errorf("after %d publishes: %w", published, err)
		}
		published++

		if delay > 0 {
			time.Sleep(delay)
		}
	}

	logging.Info().
		Int("published", published).
		Int("duplicates", duplicates).
		Int("unique", published-duplicates).
		Msg("Done")
	return nil
}

// nextEvent returns either a fresh event or a replay of one already sent.
func nextEvent(history *[]models.Event, dupeRatio float64, topics []string, source string, duplicates *int) *models.Event {
	if len(*history) > 0 && rand.Float64() < dupeRatio {
		*duplicates++
		replay := (*history)[rand.Intn(len(*history))]
		return &replay
	}

	event := models.Event{
		Topic:     topics[rand.Intn(len(topics))],
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Source:    source,
		Payload: models.JSONMap{
			"sequence": len(*history),
			"value":    rand.Intn(1000),
		},
	}
	*history = append(*history, event)
	return &event
}
