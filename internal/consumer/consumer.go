// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

// Package consumer subscribes to the Redis pub/sub channel and fans
// messages out to a bounded worker pool running the dedup protocol.
//
// Dispatch is non-blocking up to the pool width; once W events are in
// flight it blocks, so backpressure flows from the store to the bus
// through the pool's bounded capacity. No ordering is promised: two events
// delivered A, B may commit B, A. The dedup key is position-independent,
// so ordering does not affect correctness.
package consumer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/streamhouse/eventfold/internal/dedup"
	"github.com/streamhouse/eventfold/internal/logging"
	"github.com/streamhouse/eventfold/internal/metrics"
	"github.com/streamhouse/eventfold/internal/models"
	"github.com/streamhouse/eventfold/internal/validation"
)

// ErrSubscriptionClosed is returned when the bus closes the message
// channel underneath a running consumer.
var ErrSubscriptionClosed = errors.New("subscription channel closed")

// Stats holds runtime statistics for monitoring.
type Stats struct {
	MessagesReceived  int64     // Total messages received from the channel
	EventsProcessed   int64     // Events stored as new rows
	DuplicatesDropped int64     // Events classified duplicate
	ValidationErrors  int64     // Messages dropped for schema violations
	ProcessingErrors  int64     // Events that ended in the error outcome
	LastMessageTime   time.Time // Time of last received message
}

// Processor runs the dedup protocol for one validated event.
// *dedup.Processor is the production implementation.
type Processor interface {
	Process(ctx context.Context, event *models.Event) (bool, dedup.Outcome)
}

// Consumer owns the channel subscription and the worker pool. Workers are
// stateless between events; each one runs the dedup protocol inside its
// own transaction.
type Consumer struct {
	client    *redis.Client
	channel   string
	workers   int
	processor Processor

	state  atomic.Int32
	pubsub *redis.PubSub

	// Runtime counters
	messagesReceived  atomic.Int64
	eventsProcessed   atomic.Int64
	duplicatesDropped atomic.Int64
	validationErrors  atomic.Int64
	processingErrors  atomic.Int64
	lastMessageTime   atomic.Value // stores time.Time
}

// New creates a consumer for the given channel and worker pool width.
func New(client *redis.Client, channel string, workers int, processor Processor) *Consumer {
	c := &Consumer{
		client:    client,
		channel:   channel,
		workers:   workers,
		processor: processor,
	}
	c.state.Store(int32(StateInit))
	c.lastMessageTime.Store(time.Time{})
	return c
}

// Serve subscribes and runs the receive loop until ctx is cancelled or the
// subscription closes. It implements suture.Service so the supervisor tree
// can restart the consumer on failure.
func (c *Consumer) Serve(ctx context.Context) error {
	defer c.setState(StateStopped)

	if err := c.subscribe(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.pubsub.Close(); err != nil {
			logging.Err(err).Msg("Error closing subscription")
		}
	}()

	c.setState(StateRunning)
	logging.Info().
		Str("channel", c.channel).
		Int("workers", c.workers).
		Msg("Consumer running")

	// Workers inherit the serve context's values but not its cancellation:
	// an in-flight transaction runs to completion or to its next rollback
	// point, never interrupted mid-transaction.
	workerCtx := context.WithoutCancel(ctx)

	pool := new(errgroup.Group)
	pool.SetLimit(c.workers)

	messages := c.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			c.drain(pool)
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				c.drain(pool)
				return ErrSubscriptionClosed
			}
			payload := []byte(msg.Payload)
			// Blocks once all worker slots are in flight.
			pool.Go(func() error {
				c.processMessage(workerCtx, payload)
				return nil
			})
		}
	}
}

// subscribe opens the channel subscription, retrying with exponential
// backoff while the bus is unreachable.
func (c *Consumer) subscribe(ctx context.Context) error {
	operation := func() error {
		pubsub := c.client.Subscribe(ctx, c.channel)
		// Subscribe defers connection errors; force the confirmation
		// round-trip so failures surface here.
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return err
		}
		c.pubsub = pubsub
		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return err
	}

	c.setState(StateSubscribed)
	logging.Info().Str("channel", c.channel).Msg("Subscribed to channel")
	return nil
}

// drain refuses new dispatch and waits for in-flight workers to reach
// their natural transaction boundary.
func (c *Consumer) drain(pool *errgroup.Group) {
	c.setState(StateDraining)
	logging.Info().Msg("Consumer draining")
	_ = pool.Wait()
}

// processMessage handles a single raw message: decode, validate, run the
// dedup protocol, account the outcome.
func (c *Consumer) processMessage(ctx context.Context, payload []byte) {
	start := time.Now()
	c.messagesReceived.Add(1)
	c.lastMessageTime.Store(start)
	metrics.RecordConsume()

	metrics.WorkersInFlight.Inc()
	defer metrics.WorkersInFlight.Dec()

	event, err := models.ParseEvent(payload)
	if err != nil {
		// Terminal for this message: the bus is fire-and-forget, and a
		// malformed message can never become valid on retry.
		c.validationErrors.Add(1)
		metrics.RecordValidationFailure()
		if validation.IsValidationError(err) {
			logging.Warn().Err(err).Msg("Invalid event schema")
		} else {
			logging.Warn().Err(err).Msg("Invalid message body")
		}
		return
	}

	_, outcome := c.processor.Process(ctx, event)
	switch outcome {
	case dedup.OutcomeProcessed:
		c.eventsProcessed.Add(1)
	case dedup.OutcomeDuplicate:
		c.duplicatesDropped.Add(1)
	case dedup.OutcomeError:
		c.processingErrors.Add(1)
	}

	metrics.RecordOutcome(string(outcome))
	metrics.RecordProcessingDuration(time.Since(start))
}

// Stats returns a snapshot of the runtime counters.
func (c *Consumer) Stats() Stats {
	lastTime, _ := c.lastMessageTime.Load().(time.Time)
	return Stats{
		MessagesReceived:  c.messagesReceived.Load(),
		EventsProcessed:   c.eventsProcessed.Load(),
		DuplicatesDropped: c.duplicatesDropped.Load(),
		ValidationErrors:  c.validationErrors.Load(),
		ProcessingErrors:  c.processingErrors.Load(),
		LastMessageTime:   lastTime,
	}
}
