// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

// Package models defines the wire event schema, the persisted row types,
// and the API response shapes.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamhouse/eventfold/internal/validation"
)

// Event is the in-flight wire record delivered over the bus.
//
// The dedup key is the ordered pair (topic, event_id). Two events are the
// same iff their dedup keys are equal; payload, timestamp, and source are
// never compared.
type Event struct {
	Topic     string  `json:"topic" validate:"required,min=1,max=255,topic"`
	EventID   string  `json:"event_id" validate:"required,max=255,notblank"`
	Timestamp string  `json:"timestamp" validate:"required,timestamp"`
	Source    string  `json:"source" validate:"required,min=1,max=255"`
	Payload   JSONMap `json:"payload" validate:"required"`
}

// ParseEvent decodes and validates a raw message body.
// A *validation.RequestValidationError is terminal for the message: the
// consumer drops it without retry and without touching the store.
func ParseEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if verr := validation.ValidateStruct(&event); verr != nil {
		return nil, verr
	}
	return &event, nil
}

// Validate runs the schema constraints against the event.
func (e *Event) Validate() error {
	if verr := validation.ValidateStruct(e); verr != nil {
		return verr
	}
	return nil
}

// ParsedTimestamp returns the event timestamp as a UTC instant.
// The validator accepted the field, so a failure here is a processing
// error, not a validation failure.
func (e *Event) ParsedTimestamp() (time.Time, error) {
	return validation.ParseTimestamp(e.Timestamp)
}

// DedupKey returns the event identity as "topic/event_id", for logs.
func (e *Event) DedupKey() string {
	return e.Topic + "/" + e.EventID
}

// EventBatch is the multi-event publish request body.
type EventBatch struct {
	Events []Event `json:"events" validate:"required,min=1,max=1000,dive"`
}

// JSONMap is an arbitrary JSON object stored verbatim in a jsonb column.
// Unknown payload fields are accepted and preserved.
type JSONMap map[string]interface{}

// Value implements driver.Valuer, encoding the map as a jsonb literal.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for jsonb columns.
func (m *JSONMap) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
}
