// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

// Package metrics provides Prometheus instrumentation for the consumer
// pipeline, the store, and the API surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Consumer pipeline metrics
	EventsConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventfold_events_consumed_total",
			Help: "Total number of messages received from the bus",
		},
	)

	EventsValidationFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventfold_events_validation_failed_total",
			Help: "Total number of messages dropped for schema violations",
		},
	)

	EventOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_event_outcomes_total",
			Help: "Dedup protocol outcomes by classification",
		},
		[]string{"outcome"}, // "processed", "duplicate", "error"
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventfold_event_processing_duration_seconds",
			Help:    "Wall time of one dedup protocol run, including commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkersInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventfold_workers_in_flight",
			Help: "Number of worker slots currently processing an event",
		},
	)

	// Publish facade metrics
	EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventfold_events_published_total",
			Help: "Total number of events republished to the bus",
		},
	)

	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventfold_publish_errors_total",
			Help: "Total number of failed publish attempts",
		},
	)

	// Store metrics
	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_db_query_errors_total",
			Help: "Total number of store query errors",
		},
		[]string{"operation"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventfold_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventfold_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordConsume increments the bus consumption counter.
func RecordConsume() {
	EventsConsumed.Inc()
}

// RecordValidationFailure increments the dropped-message counter.
func RecordValidationFailure() {
	EventsValidationFailed.Inc()
}

// RecordOutcome increments the outcome counter for one dedup run.
func RecordOutcome(outcome string) {
	EventOutcomes.WithLabelValues(outcome).Inc()
}

// RecordProcessingDuration observes the duration of one dedup run.
func RecordProcessingDuration(d time.Duration) {
	EventProcessingDuration.Observe(d.Seconds())
}

// RecordPublish increments the publish counter.
func RecordPublish() {
	EventsPublished.Inc()
}

// RecordPublishError increments the failed-publish counter.
func RecordPublishError() {
	PublishErrors.Inc()
}

// RecordDBError increments the store error counter for an operation.
func RecordDBError(operation string) {
	DBQueryErrors.WithLabelValues(operation).Inc()
}

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
