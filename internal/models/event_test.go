// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

package models

import (
	"strings"
	"testing"

	"github.com/streamhouse/eventfold/internal/validation"
)

func validEventJSON() string {
	return `{
		"topic": "orders.created",
		"event_id": "evt-001",
		"timestamp": "2026-08-24T10:30:00Z",
		"source": "order-service",
		"payload": {"order_id": 42, "amount": 19.99}
	}`
}

func TestParseEventValid(t *testing.T) {
	event, err := ParseEvent([]byte(validEventJSON()))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if event.Topic != "orders.created" {
		t.Errorf("Topic = %q, want orders.created", event.Topic)
	}
	if event.DedupKey() != "orders.created/evt-001" {
		t.Errorf("DedupKey() = %q, want orders.created/evt-001", event.DedupKey())
	}
	if got := event.Payload["order_id"]; got != float64(42) {
		t.Errorf("Payload[order_id] = %v, want 42", got)
	}
}

func TestParseEventErrors(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		isValidation bool
	}{
		{name: "not json", body: "not json at all"},
		{name: "json array", body: `[1, 2, 3]`},
		{
			name:         "missing topic",
			body:         `{"event_id": "e1", "timestamp": "2026-08-24T10:30:00Z", "source": "s", "payload": {}}`,
			isValidation: true,
		},
		{
			name:         "blank event id",
			body:         `{"topic": "t", "event_id": "  ", "timestamp": "2026-08-24T10:30:00Z", "source": "s", "payload": {}}`,
			isValidation: true,
		},
		{
			name:         "invalid topic characters",
			body:         `{"topic": "orders/created", "event_id": "e1", "timestamp": "2026-08-24T10:30:00Z", "source": "s", "payload": {}}`,
			isValidation: true,
		},
		{
			name:         "bad timestamp",
			body:         `{"topic": "t", "event_id": "e1", "timestamp": "tomorrow", "source": "s", "payload": {}}`,
			isValidation: true,
		},
		{
			name:         "missing payload",
			body:         `{"topic": "t", "event_id": "e1", "timestamp": "2026-08-24T10:30:00Z", "source": "s"}`,
			isValidation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tt.body))
			if err == nil {
				t.Fatal("ParseEvent() error = nil, want error")
			}
			if got := validation.IsValidationError(err); got != tt.isValidation {
				t.Errorf("IsValidationError(err) = %v, want %v (err: %v)", got, tt.isValidation, err)
			}
		})
	}
}

func TestParseEventTopicLengthBoundary(t *testing.T) {
	build := func(topicLen int) string {
		return `{"topic": "` + strings.Repeat("a", topicLen) +
			`", "event_id": "e1", "timestamp": "2026-08-24T10:30:00Z", "source": "s", "payload": {}}`
	}

	if _, err := ParseEvent([]byte(build(255))); err != nil {
		t.Errorf("255-char topic rejected: %v", err)
	}
	if _, err := ParseEvent([]byte(build(256))); err == nil {
		t.Error("256-char topic accepted, want rejection")
	}
}

func TestParseEventUnknownPayloadFieldsPreserved(t *testing.T) {
	body := `{
		"topic": "t", "event_id": "e1", "timestamp": "2026-08-24T10:30:00Z",
		"source": "s",
		"payload": {"known": 1, "extra": {"nested": true}}
	}`
	event, err := ParseEvent([]byte(body))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	extra, ok := event.Payload["extra"].(map[string]interface{})
	if !ok {
		t.Fatalf("Payload[extra] = %T, want object", event.Payload["extra"])
	}
	if extra["nested"] != true {
		t.Errorf("Payload[extra][nested] = %v, want true", extra["nested"])
	}
}

func TestParsedTimestampMatchesValidator(t *testing.T) {
	// Every timestamp form the validator accepts must parse in the
	// processor; a mismatch would turn validated events into error outcomes.
	forms := []string{
		"2026-08-24T10:30:00Z",
		"2026-08-24T10:30:00+02:00",
		"2026-08-24T10:30:00.123Z",
		"2026-08-24T10:30:00",
	}
	for _, form := range forms {
		event := Event{
			Topic:     "t",
			EventID:   "e1",
			Timestamp: form,
			Source:    "s",
			Payload:   JSONMap{},
		}
		if err := event.Validate(); err != nil {
			t.Errorf("Validate() rejected %q: %v", form, err)
			continue
		}
		if _, err := event.ParsedTimestamp(); err != nil {
			t.Errorf("ParsedTimestamp() rejected validated form %q: %v", form, err)
		}
	}
}

func TestEventBatchBounds(t *testing.T) {
	makeBatch := func(n int) *EventBatch {
		batch := &EventBatch{Events: make([]Event, n)}
		for i := range batch.Events {
			batch.Events[i] = Event{
				Topic:     "t",
				EventID:   "e" + strings.Repeat("0", 3) + string(rune('a'+i%26)),
				Timestamp: "2026-08-24T10:30:00Z",
				Source:    "s",
				Payload:   JSONMap{},
			}
		}
		return batch
	}

	if verr := validation.ValidateStruct(makeBatch(1)); verr != nil {
		t.Errorf("batch of 1 rejected: %v", verr)
	}
	if verr := validation.ValidateStruct(makeBatch(1000)); verr != nil {
		t.Errorf("batch of 1000 rejected: %v", verr)
	}
	if verr := validation.ValidateStruct(makeBatch(0)); verr == nil {
		t.Error("empty batch accepted, want rejection")
	}
	if verr := validation.ValidateStruct(makeBatch(1001)); verr == nil {
		t.Error("batch of 1001 accepted, want rejection")
	}
}

func TestEventBatchDiveValidation(t *testing.T) {
	batch := &EventBatch{Events: []Event{
		{Topic: "t", EventID: "e1", Timestamp: "2026-08-24T10:30:00Z", Source: "s", Payload: JSONMap{}},
		{Topic: "bad topic!", EventID: "e2", Timestamp: "2026-08-24T10:30:00Z", Source: "s", Payload: JSONMap{}},
	}}
	if verr := validation.ValidateStruct(batch); verr == nil {
		t.Error("batch with invalid member accepted, want rejection")
	}
}

func TestJSONMapValue(t *testing.T) {
	v, err := JSONMap{"a": 1}.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if s, ok := v.(string); !ok || s != `{"a":1}` {
		t.Errorf("Value() = %v (%T), want {\"a\":1}", v, v)
	}

	v, err = JSONMap(nil).Value()
	if err != nil {
		t.Fatalf("Value() on nil error = %v", err)
	}
	if v != "{}" {
		t.Errorf("Value() on nil = %v, want {}", v)
	}
}

func TestJSONMapScan(t *testing.T) {
	var m JSONMap
	if err := m.Scan([]byte(`{"k": "v"}`)); err != nil {
		t.Fatalf("Scan([]byte) error = %v", err)
	}
	if m["k"] != "v" {
		t.Errorf("m[k] = %v, want v", m["k"])
	}
	if err := m.Scan(42); err == nil {
		t.Error("Scan(int) = nil, want error")
	}
}

func TestSameEventIDDifferentTopicsDistinctKeys(t *testing.T) {
	a := Event{Topic: "orders", EventID: "shared"}
	b := Event{Topic: "payments", EventID: "shared"}
	if a.DedupKey() == b.DedupKey() {
		t.Errorf("dedup keys collide across topics: %q", a.DedupKey())
	}
}
