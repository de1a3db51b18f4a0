// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

// Package stream connects to the push-based firehose and delivers raw
// events through callbacks. A Source is single-shot: one Connect is one
// stream session, and a dead session stays dead until the session
// supervisor builds a new one. Reconnection policy lives above this
// package.
package stream

import "context"

// Handler receives stream callbacks. Calls arrive from a single
// goroutine, one event at a time; OnData must not block longer than the
// source read timeout or the connection is considered dead.
type Handler interface {
	// OnData is invoked with one raw event payload.
	OnData(data []byte)

	// OnError is invoked with an HTTP status code signaled by the
	// stream source (rate limiting, authorization rejection).
	OnError(status int)

	// OnException is invoked on low-level transport failures.
	OnException(err error)
}

// Source is a push-based event stream.
type Source interface {
	// Connect opens the stream filtered on the given terms and starts
	// delivering events to the handler.
	Connect(ctx context.Context, filters []string) error

	// Disconnect tears the stream down, unblocking any pending receive
	// within the read-timeout window. Idempotent.
	Disconnect()

	// Running reports stream liveness. False once the read loop has
	// exited for any reason.
	Running() bool
}
