// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

// Package ingest implements the ingestion listener: the stream-session
// state machine plus the per-event pipeline (normalize, attach expiry,
// write, report throughput).
//
// Per-event errors never leave this package: a malformed payload, a
// missing id or a write failure drops that one event and the stream
// carries on. Only an authorization rejection escapes, through Fatal().
package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/firetap-io/firetap/internal/event"
	"github.com/firetap-io/firetap/internal/logging"
	"github.com/firetap-io/firetap/internal/metrics"
	"github.com/rs/zerolog"
)

// Stream-source status codes with dedicated handling.
const (
	statusUnauthorized    = http.StatusUnauthorized
	statusEnhanceYourCalm = 420
	statusTooManyRequests = http.StatusTooManyRequests
)

// Fixed backoff durations. Each rate-limit code gets its own sleep;
// recoverable transport errors use the shortest one.
var (
	backoffByStatus = map[int]time.Duration{
		statusEnhanceYourCalm: 10 * time.Second,
		statusTooManyRequests: 5 * time.Second,
	}
	transportBackoff = time.Second
)

// TweetStore is the slice of the store the listener writes through.
type TweetStore interface {
	InsertTweet(ctx context.Context, doc map[string]any) (bool, error)
	UpsertUser(ctx context.Context, user map[string]any) (bool, error)
}

// Config tunes one listener instance.
type Config struct {
	// ExpireMinSecs and ExpireMaxSecs bound the random TTL draw; both
	// zero disables expiry.
	ExpireMinSecs int
	ExpireMaxSecs int

	// ReportInterval is how often a throughput report is emitted.
	ReportInterval time.Duration
}

// Listener consumes stream callbacks for one session and writes
// normalized documents to the store.
//
// Counters and report timers are instance state: every supervisor
// restart builds a fresh Listener, so they reset with the session.
type Listener struct {
	store TweetStore
	cfg   Config
	ctx   context.Context
	log   zerolog.Logger

	state stateVar

	// fatal carries the authorization failure out of the callback
	// path. Buffered so OnError never blocks the stream goroutine.
	fatal chan error

	// backoff is set while in BackingOff and consumed by the session
	// supervisor before it redials.
	backoff chan time.Duration

	// Written-event accounting, touched only from the stream delivery
	// goroutine.
	count           int64
	lastReportCount int64
	lastReportTime  time.Time

	now func() time.Time
}

// NewListener builds a listener for one stream session.
func NewListener(ctx context.Context, store TweetStore, cfg Config) *Listener {
	l := &Listener{
		store:   store,
		cfg:     cfg,
		ctx:     ctx,
		log:     logging.With().Str("component", "listener").Logger(),
		fatal:   make(chan error, 1),
		backoff: make(chan time.Duration, 1),
		now:     time.Now,
	}
	l.lastReportTime = l.now()
	return l
}

// State returns the session state.
func (l *Listener) State() State {
	return l.state.get()
}

// Connecting marks the session as dialing. Called by the supervisor on
// start and on every restart.
func (l *Listener) Connecting() {
	l.state.set(Connecting)
}

// Stop moves the session into Stopping; event processing after this is
// a no-op. Idempotent.
func (l *Listener) Stop() {
	st := l.state.get()
	if st != Stopping && st != Stopped {
		l.state.set(Stopping)
	}
}

// MarkStopped finalizes the session. Called by the supervisor once the
// source is disconnected.
func (l *Listener) MarkStopped() {
	l.state.set(Stopped)
}

// Fatal yields the non-recoverable authorization error, if one arrived.
func (l *Listener) Fatal() <-chan error {
	return l.fatal
}

// Backoff yields the sleep the supervisor owes before redialing after a
// rate-limit or transport signal.
func (l *Listener) Backoff() <-chan time.Duration {
	return l.backoff
}

// Count reports successfully written events for this session.
func (l *Listener) Count() int64 {
	return l.count
}

// OnData handles one pushed event. First delivery completes the
// Connecting → Streaming transition.
func (l *Listener) OnData(data []byte) {
	st := l.state.get()
	if st == Stopping || st == Stopped {
		return
	}
	l.state.advance(Connecting, Streaming)

	l.processEvent(data)
	l.maybeReport()
}

// processEvent runs the per-event pipeline. Every failure is contained:
// log, count, drop.
func (l *Listener) processEvent(data []byte) {
	doc, err := event.Normalize(data)
	if err != nil {
		l.log.Error().Err(err).Msg("Error parsing event")
		metrics.EventsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		return
	}

	event.AttachExpiry(doc, l.cfg.ExpireMinSecs, l.cfg.ExpireMaxSecs)

	if _, ok := event.ID(doc); !ok {
		l.log.Warn().Msg("Event without id discarded")
		metrics.EventsTotal.WithLabelValues(metrics.ResultInvalid).Inc()
		return
	}

	inserted, err := l.store.InsertTweet(l.ctx, doc)
	if err != nil {
		l.log.Error().Err(err).Msg("Error writing tweet to db")
		metrics.EventsTotal.WithLabelValues(metrics.ResultDropped).Inc()
		return
	}
	if inserted {
		l.count++
		metrics.EventsTotal.WithLabelValues(metrics.ResultWritten).Inc()
	} else {
		metrics.EventsTotal.WithLabelValues(metrics.ResultDuplicate).Inc()
	}

	author, ok := event.Author(doc)
	if !ok {
		return
	}
	if expireAt, has := doc[event.ExpireAtField]; has {
		author[event.ExpireAtField] = expireAt
	}
	upserted, err := l.store.UpsertUser(l.ctx, author)
	if err != nil {
		l.log.Error().Err(err).Msg("Error upserting user to db")
		return
	}
	if upserted {
		metrics.UserUpserts.Inc()
	}
}

// maybeReport emits the periodic throughput report. Observability side
// effect only; it never influences control flow.
func (l *Listener) maybeReport() {
	now := l.now()
	elapsed := now.Sub(l.lastReportTime)
	if elapsed < l.cfg.ReportInterval {
		return
	}

	written := l.count - l.lastReportCount
	rate := float64(written) / elapsed.Seconds()
	l.log.Info().
		Int64("written", written).
		Float64("per_sec", rate).
		Int64("stream_total", l.count).
		Dur("window", elapsed).
		Msg("Throughput report")

	l.lastReportCount = l.count
	l.lastReportTime = now
}

// OnError reacts to a stream-source status code. Rate limiting backs
// the session off; an authorization rejection is fatal for the whole
// process.
func (l *Listener) OnError(status int) {
	switch {
	case status == statusUnauthorized:
		l.log.Error().Int("status", status).
			Msg("Stream authorization rejected: credentials missing or incorrect")
		l.Stop()
		select {
		case l.fatal <- ErrUnauthorized:
		default:
		}

	case status == statusEnhanceYourCalm || status == statusTooManyRequests:
		d := backoffByStatus[status]
		l.log.Warn().Int("status", status).Dur("backoff", d).
			Msg("Stream rate limited, backing off")
		l.enterBackoff(d)

	default:
		l.log.Error().Int("status", status).Msg("Stream error status")
		l.enterBackoff(transportBackoff)
	}
}

// OnException reacts to a recoverable transport failure: back off, then
// let the supervisor redial.
func (l *Listener) OnException(err error) {
	st := l.state.get()
	if st == Stopping || st == Stopped {
		return
	}
	l.log.Warn().Err(err).Msg("Stream transport error")
	l.enterBackoff(transportBackoff)
}

func (l *Listener) enterBackoff(d time.Duration) {
	st := l.state.get()
	if st == Stopping || st == Stopped {
		return
	}
	l.state.set(BackingOff)
	select {
	case l.backoff <- d:
	default:
	}
}
