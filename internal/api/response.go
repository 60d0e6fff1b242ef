// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/streamhouse/eventfold/internal/logging"
	"github.com/streamhouse/eventfold/internal/models"
)

// writeJSON writes v as a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Ctx(r.Context()).Err(err).Msg("Failed to encode response body")
	}
}

// writeError writes an error body with the given status.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string, details interface{}) {
	writeJSON(w, r, status, models.ErrorResponse{
		Error:   message,
		Details: details,
	})
}
