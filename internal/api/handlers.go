// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/streamhouse/eventfold/internal/logging"
	"github.com/streamhouse/eventfold/internal/models"
	"github.com/streamhouse/eventfold/internal/validation"
)

const (
	maxPublishBodyBytes = 10 << 20

	defaultListLimit = 100
	maxListLimit     = 1000
)

// handleRoot is the liveness banner.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, models.BannerResponse{
		Service: "eventfold",
		Version: s.version,
		Status:  "running",
	})
}

// handleHealth probes the store and the bus. Either probe failing makes
// the whole answer a 503 with per-dependency detail.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, 5*time.Second)
	defer cancel()

	resp := models.HealthResponse{
		Status:   "healthy",
		Database: "connected",
		Redis:    "connected",
	}
	status := http.StatusOK

	if err := s.db.HealthCheck(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Database health probe failed")
		resp.Database = "disconnected"
	}
	if err := s.publisher.HealthCheck(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Redis health probe failed")
		resp.Redis = "disconnected"
	}
	if resp.Database != "connected" || resp.Redis != "connected" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, r, status, resp)
}

// handlePublish accepts one event or a batch of 1-1000 and republishes to
// the bus. The facade never writes to the store directly; accepted events
// reach it only through the consumer's dedup protocol.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPublishBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "failed to read request body", nil)
		return
	}

	events, verr, err := decodePublishBody(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed JSON body", nil)
		return
	}
	if verr != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "validation failed", verr.Errors())
		return
	}

	accepted, err := s.publisher.PublishBatch(r.Context(), events)
	if err != nil {
		logging.Ctx(r.Context()).Err(err).
			Int("accepted", accepted).
			Int("total", len(events)).
			Msg("Publish to bus failed")
		writeError(w, r, http.StatusServiceUnavailable, "failed to publish to bus", map[string]int{
			"accepted": accepted,
		})
		return
	}

	writeJSON(w, r, http.StatusAccepted, models.PublishResponse{
		Status:   "accepted",
		Accepted: accepted,
		Message:  "events published to channel " + s.publisher.Channel(),
	})
}

// decodePublishBody decodes either a single Event or an {events: [...]}
// batch. Returns (events, nil, nil) on success, a validation error for
// schema failures, or a decode error for malformed JSON.
func decodePublishBody(body []byte) ([]models.Event, *validation.RequestValidationError, error) {
	// The batch shape is distinguishable by its "events" key.
	var probe struct {
		Events *json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, nil, err
	}

	if probe.Events != nil {
		var batch models.EventBatch
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, nil, err
		}
		if verr := validation.ValidateStruct(&batch); verr != nil {
			return nil, verr, nil
		}
		return batch.Events, nil, nil
	}

	var event models.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, nil, err
	}
	if verr := validation.ValidateStruct(&event); verr != nil {
		return nil, verr, nil
	}
	return []models.Event{event}, nil, nil
}

// handleListEvents returns processed events ordered by processed_at
// descending, optionally filtered by topic.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > maxListLimit {
		writeError(w, r, http.StatusBadRequest, "limit must be in 1..1000", nil)
		return
	}
	if offset < 0 {
		writeError(w, r, http.StatusBadRequest, "offset must not be negative", nil)
		return
	}

	rows, err := s.db.ListProcessedEvents(r.Context(), topic, limit, offset)
	if err != nil {
		logging.Ctx(r.Context()).Err(err).Msg("Failed to list events")
		writeError(w, r, http.StatusInternalServerError, "failed to list events", nil)
		return
	}

	out := make([]models.EventResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.EventResponse{
			Topic:       row.Topic,
			EventID:     row.EventID,
			Timestamp:   row.Timestamp.UTC().Format(time.RFC3339Nano),
			ProcessedAt: row.ProcessedAt.UTC().Format(time.RFC3339Nano),
			Source:      row.Source,
			Payload:     row.Payload,
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleStats returns the committed counter snapshot plus service gauges.
// The read never takes the stats row-lock.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Err(err).Msg("Failed to read stats")
		writeError(w, r, http.StatusInternalServerError, "failed to read stats", nil)
		return
	}

	topics, err := s.db.CountDistinctTopics(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Err(err).Msg("Failed to count topics")
		writeError(w, r, http.StatusInternalServerError, "failed to read stats", nil)
		return
	}

	var lastUpdated *string
	if stats.LastUpdated != nil {
		formatted := stats.LastUpdated.UTC().Format(time.RFC3339Nano)
		lastUpdated = &formatted
	}

	writeJSON(w, r, http.StatusOK, models.StatsResponse{
		Received:         stats.Received,
		UniqueProcessed:  stats.UniqueProcessed,
		DuplicateDropped: stats.DuplicateDropped,
		Topics:           topics,
		UptimeSeconds:    time.Since(s.startTime).Seconds(),
		LastUpdated:      lastUpdated,
	})
}

// handleTopics returns the distinct topic set.
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.db.ListTopics(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Err(err).Msg("Failed to list topics")
		writeError(w, r, http.StatusInternalServerError, "failed to list topics", nil)
		return
	}
	if topics == nil {
		topics = []string{}
	}
	writeJSON(w, r, http.StatusOK, models.TopicsResponse{Topics: topics})
}

// handleAudit returns the audit trail, newest first, optionally filtered
// by action.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	switch action {
	case "", models.AuditActionProcessed, models.AuditActionDuplicate, models.AuditActionError:
	default:
		writeError(w, r, http.StatusBadRequest, "action must be one of processed, duplicate, error", nil)
		return
	}
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > maxListLimit {
		writeError(w, r, http.StatusBadRequest, "limit must be in 1..1000", nil)
		return
	}
	if offset < 0 {
		writeError(w, r, http.StatusBadRequest, "offset must not be negative", nil)
		return
	}

	logs, err := s.db.ListAuditLogs(r.Context(), action, limit, offset)
	if err != nil {
		logging.Ctx(r.Context()).Err(err).Msg("Failed to list audit logs")
		writeError(w, r, http.StatusInternalServerError, "failed to list audit logs", nil)
		return
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	writeJSON(w, r, http.StatusOK, models.AuditResponse{
		Logs:  logs,
		Count: len(logs),
	})
}

// queryInt parses an integer query parameter, falling back to def when
// absent. A non-numeric value is reported as -1 so range checks reject it.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

// contextWithTimeout derives a bounded context from the request.
func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
