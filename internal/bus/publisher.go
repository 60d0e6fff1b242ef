// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

// Package bus wraps the Redis pub/sub channel behind a small publish
// facade. Publishing is fire-and-forget: the bus offers no redelivery, so
// delivery guarantees begin at the consumer's dedup protocol, not here.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/streamhouse/eventfold/internal/logging"
	"github.com/streamhouse/eventfold/internal/metrics"
	"github.com/streamhouse/eventfold/internal/models"
)

// NewClient builds a Redis client from a redis:// URL.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Publisher publishes wire events to the configured channel. A circuit
// breaker sheds publish attempts while the bus is unreachable so the API
// surface fails fast instead of stacking timeouts.
type Publisher struct {
	client  *redis.Client
	channel string
	breaker *gobreaker.CircuitBreaker[int64]
}

// NewPublisher creates a publisher for the given channel.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	settings := gobreaker.Settings{
		Name:    "redis-publish",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Publish circuit breaker state change")
		},
	}

	return &Publisher{
		client:  client,
		channel: channel,
		breaker: gobreaker.NewCircuitBreaker[int64](settings),
	}
}

// Channel returns the configured channel name.
func (p *Publisher) Channel() string {
	return p.channel
}

// Publish serialises one event and publishes it to the channel.
func (p *Publisher) Publish(ctx context.Context, event *models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.DedupKey(), err)
	}

	_, err = p.breaker.Execute(func() (int64, error) {
		return p.client.Publish(ctx, p.channel, payload).Result()
	})
	if err != nil {
		metrics.RecordPublishError()
		return fmt.Errorf("publish event %s: %w", event.DedupKey(), err)
	}

	metrics.RecordPublish()
	return nil
}

// PublishBatch publishes events in order, stopping at the first failure and
// returning how many were accepted.
func (p *Publisher) PublishBatch(ctx context.Context, events []models.Event) (int, error) {
	for i := range events {
		if err := p.Publish(ctx, &events[i]); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

// HealthCheck probes the bus using the driver's idiomatic ping.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
