// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/streamhouse/eventfold/internal/dedup"
	"github.com/streamhouse/eventfold/internal/models"
)

// TestServeConcurrentDuplicateRace drives N workers against N deliveries
// of the same dedup key. Exactly one insert wins the unique index; the
// other N-1 observe the violation and are classified duplicate, each
// contributing +1 received and +1 duplicate_dropped.
func TestServeConcurrentDuplicateRace(t *testing.T) {
	const workers = 4
	c, mr, mock := newTestConsumer(t, workers)

	// Workers interleave transactions, so the scripts cannot be matched
	// in declaration order. Counts still must balance exactly.
	mock.MatchExpectationsInOrder(false)

	// 4 protocol transactions plus 3 fresh duplicate-counter transactions.
	for i := 0; i < workers+workers-1; i++ {
		mock.ExpectBegin()
	}

	// The first insert to reach the index wins; the rest violate it.
	mock.ExpectQuery("INSERT INTO processed_events").
		WillReturnRows(sqlmock.NewRows([]string{"id", "processed_at"}).
			AddRow(int64(1), time.Now().UTC()))
	for i := 0; i < workers-1; i++ {
		mock.ExpectQuery("INSERT INTO processed_events").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_topic_event_id"})
		mock.ExpectRollback()
	}

	// One stats lock per committed outcome.
	for i := 0; i < workers; i++ {
		mock.ExpectQuery("SELECT (.+) FROM event_stats(.+)FOR UPDATE").
			WillReturnRows(sqlmock.NewRows(
				[]string{"id", "received", "unique_processed", "duplicate_dropped", "last_updated"}).
				AddRow(int64(1), int64(0), int64(0), int64(0), nil))
	}

	mock.ExpectExec("UPDATE event_stats").
		WithArgs(models.StatsRowID, int64(1), int64(1), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs("orders.created", "evt-001", models.AuditActionProcessed, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	for i := 0; i < workers-1; i++ {
		mock.ExpectExec("UPDATE event_stats").
			WithArgs(models.StatsRowID, int64(1), int64(0), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs("orders.created", "evt-001", models.AuditActionDuplicate, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	// One commit per processed or duplicate outcome.
	for i := 0; i < workers; i++ {
		mock.ExpectCommit()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	waitFor(t, "consumer running", func() bool { return c.State() == StateRunning })
	for i := 0; i < workers; i++ {
		mr.Publish(testChannel, validEventJSON)
	}

	waitFor(t, "all deliveries classified", func() bool {
		stats := c.Stats()
		return stats.EventsProcessed+stats.DuplicatesDropped == workers
	})

	stats := c.Stats()
	if stats.EventsProcessed != 1 {
		t.Errorf("EventsProcessed = %d, want exactly 1", stats.EventsProcessed)
	}
	if stats.DuplicatesDropped != workers-1 {
		t.Errorf("DuplicatesDropped = %d, want %d", stats.DuplicatesDropped, workers-1)
	}
	if stats.MessagesReceived != workers {
		t.Errorf("MessagesReceived = %d, want %d", stats.MessagesReceived, workers)
	}
	if stats.ProcessingErrors != 0 {
		t.Errorf("ProcessingErrors = %d, want 0", stats.ProcessingErrors)
	}

	cancel()
	<-done
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// blockingProcessor holds every event until released, recording how many
// run at once.
type blockingProcessor struct {
	release chan struct{}

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func (p *blockingProcessor) Process(ctx context.Context, event *models.Event) (bool, dedup.Outcome) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	p.mu.Unlock()

	<-p.release

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	return true, dedup.OutcomeProcessed
}

func (p *blockingProcessor) snapshot() (inFlight, maxInFlight int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight, p.maxInFlight
}

// TestDispatchBlocksAtPoolWidth shows the backpressure bound: with W slow
// workers in flight the receive loop stalls, and no further message enters
// processing until a slot frees.
func TestDispatchBlocksAtPoolWidth(t *testing.T) {
	const workers = 2
	const published = 4

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	proc := &blockingProcessor{release: make(chan struct{})}
	c := New(client, testChannel, workers, proc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	waitFor(t, "consumer running", func() bool { return c.State() == StateRunning })
	for i := 0; i < published; i++ {
		mr.Publish(testChannel, validEventJSON)
	}

	waitFor(t, "pool saturated", func() bool {
		inFlight, _ := proc.snapshot()
		return inFlight == workers
	})

	// The pool is full: dispatch must stall, not queue more work.
	time.Sleep(200 * time.Millisecond)
	if inFlight, _ := proc.snapshot(); inFlight != workers {
		t.Errorf("in-flight = %d while saturated, want %d", inFlight, workers)
	}
	if got := c.Stats().MessagesReceived; got != workers {
		t.Errorf("MessagesReceived = %d while saturated, want %d", got, workers)
	}

	close(proc.release)
	waitFor(t, "backlog drained", func() bool {
		return c.Stats().EventsProcessed == published
	})

	if _, maxInFlight := proc.snapshot(); maxInFlight > workers {
		t.Errorf("maxInFlight = %d, want <= pool width %d", maxInFlight, workers)
	}

	cancel()
	<-done
}
