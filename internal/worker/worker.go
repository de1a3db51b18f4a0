// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

// Package worker runs the secondary-operation worker pool. Every
// worker is the same poll loop parameterized by an Operation strategy;
// the find and delete flavors differ only in the store call they make.
//
// Workers are decoupled from ingestion: they share nothing with the
// listener except the store, and a failing queue item is logged and
// skipped, never fatal to the worker.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/firetap-io/firetap/internal/logging"
	"github.com/firetap-io/firetap/internal/metrics"
	"github.com/firetap-io/firetap/internal/queue"
)

// OpStore is the slice of the store workers operate on.
type OpStore interface {
	FindTweet(ctx context.Context, id any) (map[string]any, error)
	DeleteTweet(ctx context.Context, id any) (bool, error)
}

// Operation is one worker flavor's store action.
type Operation interface {
	// Kind names the flavor for logs and metrics.
	Kind() queue.Op

	// Execute performs the store operation for one dequeued key.
	Execute(ctx context.Context, key any) error
}

// FindOp is the point-lookup flavor. Results are read and discarded;
// the operation exists to generate read load, so observability is a
// debug log and the operations metric.
type FindOp struct {
	Store OpStore
}

// Kind implements Operation.
func (FindOp) Kind() queue.Op { return queue.OpFind }

// Execute implements Operation.
func (o FindOp) Execute(ctx context.Context, key any) error {
	doc, err := o.Store.FindTweet(ctx, key)
	if err != nil {
		return err
	}
	logging.Debug().Interface("key", key).Bool("found", doc != nil).Msg("Point find")
	return nil
}

// DeleteOp is the point-delete flavor. Deleting an already-deleted key
// is a no-op, not an error.
type DeleteOp struct {
	Store OpStore
}

// Kind implements Operation.
func (DeleteOp) Kind() queue.Op { return queue.OpDelete }

// Execute implements Operation.
func (o DeleteOp) Execute(ctx context.Context, key any) error {
	deleted, err := o.Store.DeleteTweet(ctx, key)
	if err != nil {
		return err
	}
	logging.Debug().Interface("key", key).Bool("deleted", deleted).Msg("Point delete")
	return nil
}

// Config tunes one worker.
type Config struct {
	// MinQueued is the queue depth required before the worker starts
	// draining. A batching/backpressure knob: items below the
	// threshold stay queued.
	MinQueued int

	// PollInterval is the sleep between depth polls, bounding CPU use.
	PollInterval time.Duration
}

// Worker drains one queue handle with one operation strategy.
type Worker struct {
	name  string
	queue queue.Queue
	op    Operation
	cfg   Config
	log   zerolog.Logger
}

// New builds a worker. name distinguishes pool members in supervisor
// logs.
func New(name string, q queue.Queue, op Operation, cfg Config) *Worker {
	return &Worker{
		name:  name,
		queue: q,
		op:    op,
		cfg:   cfg,
		log: logging.With().
			Str("component", "worker").
			Str("worker", name).
			Str("op", string(op.Kind())).
			Logger(),
	}
}

// Serve implements suture.Service: poll depth, drain one item once the
// threshold is reached, sleep, repeat until the context is canceled.
// Cancellation is observed within one poll interval.
func (w *Worker) Serve(ctx context.Context) error {
	w.log.Info().Msg("Worker started")
	defer w.log.Info().Msg("Worker stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w.pollOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// pollOnce checks depth and processes at most one item. All per-item
// failures terminate here.
func (w *Worker) pollOnce(ctx context.Context) {
	depth, err := w.queue.Depth(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("Queue depth poll failed")
		return
	}
	metrics.QueueDepth.WithLabelValues(string(w.op.Kind())).Set(float64(depth))
	if depth <= w.cfg.MinQueued {
		return
	}

	item, ok, err := w.queue.TryDequeue(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("Dequeue failed")
		return
	}
	if !ok {
		// Lost the race for the last item; nothing to do.
		return
	}

	if err := w.op.Execute(ctx, item.Key); err != nil {
		w.log.Error().Err(err).Interface("key", item.Key).Msg("Queue operation failed")
		metrics.WorkerOps.WithLabelValues(string(w.op.Kind()), "error").Inc()
		return
	}
	metrics.WorkerOps.WithLabelValues(string(w.op.Kind()), "ok").Inc()
}

// String implements fmt.Stringer; suture uses it to identify the
// service in supervision logs.
func (w *Worker) String() string {
	return fmt.Sprintf("worker-%s", w.name)
}
