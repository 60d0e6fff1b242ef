// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

package models

// BannerResponse is the GET / liveness banner.
type BannerResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// HealthResponse reports the state of the store and the bus probes.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// PublishResponse acknowledges accepted publish requests.
type PublishResponse struct {
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
	Message  string `json:"message"`
}

// EventResponse is the read-only projection of a processed event.
type EventResponse struct {
	Topic       string  `json:"topic"`
	EventID     string  `json:"event_id"`
	Timestamp   string  `json:"timestamp"`
	ProcessedAt string  `json:"processed_at"`
	Source      string  `json:"source"`
	Payload     JSONMap `json:"payload"`
}

// StatsResponse is the counter snapshot plus service-level gauges.
type StatsResponse struct {
	Received         int64   `json:"received"`
	UniqueProcessed  int64   `json:"unique_processed"`
	DuplicateDropped int64   `json:"duplicate_dropped"`
	Topics           int64   `json:"topics"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	LastUpdated      *string `json:"last_updated"`
}

// TopicsResponse is the distinct topic enumeration.
type TopicsResponse struct {
	Topics []string `json:"topics"`
}

// AuditResponse is the audit trail page.
type AuditResponse struct {
	Logs  []AuditLog `json:"logs"`
	Count int        `json:"count"`
}

// ErrorResponse is the error body for non-2xx answers.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}
