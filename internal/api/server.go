// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

// Package api exposes the HTTP facade: the read-only query surface over
// the store, the publish endpoint that republishes to the bus, health
// probes, and the Prometheus scrape endpoint. The query surface never
// takes the stats row-lock; it must not contend with the dedup workers.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamhouse/eventfold/internal/bus"
	"github.com/streamhouse/eventfold/internal/config"
	"github.com/streamhouse/eventfold/internal/database"
	"github.com/streamhouse/eventfold/internal/logging"
)

// defaultShutdownTimeout stays below the supervisor's default stop budget
// so a draining server is never misreported as unstopped.
const defaultShutdownTimeout = 8 * time.Second

// Server is the HTTP facade over the store and the bus.
type Server struct {
	cfg             config.ServerConfig
	db              *database.DB
	publisher       *bus.Publisher
	version         string
	startTime       time.Time
	shutdownTimeout time.Duration

	httpServer *http.Server
}

// NewServer assembles the facade. startTime feeds the uptime gauge in the
// stats response. shutdownTimeout bounds the graceful drain on stop; it
// must fit inside the supervisor's stop budget, and a non-positive value
// selects the default.
func NewServer(cfg config.ServerConfig, db *database.DB, publisher *bus.Publisher, version string, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		cfg:             cfg,
		db:              db,
		publisher:       publisher,
		version:         version,
		startTime:       time.Now(),
		shutdownTimeout: shutdownTimeout,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       2 * time.Minute,
	}

	return s
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(httprate.LimitByIP(100, time.Minute))
	r.Use(metricsMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/publish", s.handlePublish)
	r.Get("/events", s.handleListEvents)
	r.Get("/stats", s.handleStats)
	r.Get("/topics", s.handleTopics)
	r.Get("/audit", s.handleAudit)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ShutdownTimeout returns the graceful drain bound applied on stop.
func (s *Server) ShutdownTimeout() time.Duration {
	return s.shutdownTimeout
}

// Serve runs the HTTP server until ctx is cancelled, then drains with a
// bounded graceful shutdown. It implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Err(err).Msg("API server shutdown error")
		}
		<-errCh
		return ctx.Err()
	}
}
