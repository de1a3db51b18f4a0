// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

// Package metrics provides Prometheus instrumentation for ingestion,
// stream health and the worker pool. Collectors register on the default
// registry and are exposed by the admin server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event result labels.
const (
	ResultWritten   = "written"
	ResultDuplicate = "duplicate"
	ResultInvalid   = "invalid"
	ResultDropped   = "dropped"
)

var (
	// EventsTotal counts processed firehose events by outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firetap_events_total",
			Help: "Firehose events processed, by outcome",
		},
		[]string{"result"},
	)

	// UserUpserts counts author-projection writes.
	UserUpserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firetap_user_upserts_total",
			Help: "User documents upserted from event author records",
		},
	)

	// StreamReconnects counts supervisor-driven session restarts.
	StreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firetap_stream_reconnects_total",
			Help: "Stream sessions restarted by the session supervisor",
		},
	)

	// StreamBackoffSeconds accumulates time slept on rate-limit
	// signals.
	StreamBackoffSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firetap_stream_backoff_seconds_total",
			Help: "Seconds slept backing off from stream rate limiting",
		},
	)

	// WorkerOps counts secondary operations by kind and outcome.
	WorkerOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firetap_worker_ops_total",
			Help: "Worker queue operations, by operation and outcome",
		},
		[]string{"op", "result"},
	)

	// QueueDepth tracks the last observed depth per work-queue flavor.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "firetap_queue_depth",
			Help: "Last observed depth of the work queue, by operation",
		},
		[]string{"op"},
	)
)
