// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

// Package admin exposes the operational HTTP surface: liveness,
// Prometheus metrics, and the producer endpoints that enqueue
// secondary operations for the worker pool.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/firetap-io/firetap/internal/logging"
	"github.com/firetap-io/firetap/internal/queue"
)

// Queues holds the per-flavor producer handles.
type Queues struct {
	Find   queue.Queue
	Delete queue.Queue
}

// Server is the admin HTTP server, supervised as a suture service.
type Server struct {
	addr   string
	queues Queues
	srv    *http.Server
}

// NewServer builds the admin server on addr.
func NewServer(addr string, queues Queues) *Server {
	s := &Server{addr: addr, queues: queues}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/ops", func(r chi.Router) {
		r.Post("/find/{id}", s.enqueueHandler(queue.OpFind))
		r.Post("/delete/{id}", s.enqueueHandler(queue.OpDelete))
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// enqueueHandler accepts an id path parameter and queues it for the
// given worker flavor. Numeric ids are normalized the same way queued
// wire items are, so they match stored documents.
func (s *Server) enqueueHandler(op queue.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := s.queueFor(op)
		if q == nil {
			http.Error(w, "queue not configured", http.StatusServiceUnavailable)
			return
		}

		raw := chi.URLParam(r, "id")
		if raw == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		item := queue.Item{Key: raw}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			item.Key = n
		}

		if err := q.Enqueue(r.Context(), item); err != nil {
			logging.Error().Err(err).Str("op", string(op)).Msg("Enqueue failed")
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) queueFor(op queue.Op) queue.Queue {
	switch op {
	case queue.OpFind:
		return s.queues.Find
	case queue.OpDelete:
		return s.queues.Delete
	default:
		return nil
	}
}

// Serve implements suture.Service: listen until the context is
// canceled, then shut down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("Admin server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture logs.
func (s *Server) String() string {
	return "admin-server"
}
