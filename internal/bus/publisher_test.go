// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/streamhouse/eventfold/internal/models"
)

func newTestPublisher(t *testing.T) (*Publisher, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPublisher(client, "events"), mr, client
}

func testEvent(id string) *models.Event {
	return &models.Event{
		Topic:     "orders.created",
		EventID:   id,
		Timestamp: "2026-08-24T10:30:00Z",
		Source:    "order-service",
		Payload:   models.JSONMap{"n": float64(1)},
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("not-a-url"); err == nil {
		t.Fatal("NewClient() = nil error, want parse failure")
	}
	if _, err := NewClient("redis://localhost:6379"); err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	p, mr, _ := newTestPublisher(t)
	ctx := context.Background()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	pubsub := sub.Subscribe(ctx, "events")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := p.Publish(ctx, testEvent("e1")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-pubsub.Channel():
		var got models.Event
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode delivered message: %v", err)
		}
		if got.EventID != "e1" {
			t.Errorf("delivered EventID = %q, want e1", got.EventID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered within 2s")
	}
}

func TestPublishBatchOrderAndCount(t *testing.T) {
	p, _, _ := newTestPublisher(t)

	events := []models.Event{*testEvent("e1"), *testEvent("e2"), *testEvent("e3")}
	n, err := p.PublishBatch(context.Background(), events)
	if err != nil {
		t.Fatalf("PublishBatch() error = %v", err)
	}
	if n != 3 {
		t.Errorf("accepted = %d, want 3", n)
	}
}

func TestPublishBatchStopsAtFirstFailure(t *testing.T) {
	p, mr, _ := newTestPublisher(t)
	mr.Close()

	n, err := p.PublishBatch(context.Background(), []models.Event{*testEvent("e1"), *testEvent("e2")})
	if err == nil {
		t.Fatal("PublishBatch() = nil error against closed bus")
	}
	if n != 0 {
		t.Errorf("accepted = %d, want 0", n)
	}
}

func TestPublishBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	p, mr, _ := newTestPublisher(t)
	mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := p.Publish(ctx, testEvent("e1")); err == nil {
			t.Fatalf("Publish() #%d = nil error against closed bus", i+1)
		}
	}

	err := p.Publish(ctx, testEvent("e1"))
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Publish() after 5 failures = %v, want open-breaker error", err)
	}
}

func TestHealthCheck(t *testing.T) {
	p, mr, _ := newTestPublisher(t)

	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	mr.Close()
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil against closed bus, want error")
	}
}
