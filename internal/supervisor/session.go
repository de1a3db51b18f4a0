// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/firetap-io/firetap/internal/config"
	"github.com/firetap-io/firetap/internal/ingest"
	"github.com/firetap-io/firetap/internal/logging"
	"github.com/firetap-io/firetap/internal/metrics"
	"github.com/firetap-io/firetap/internal/stream"
)

// checkInterval is the supervise-loop health poll period. The loop is
// the only ingestion-side component allowed to sleep without affecting
// event delivery.
const checkInterval = time.Second

// SessionStore is the store lifecycle the supervisor owns. The
// supervisor is the single place the shared store connection is
// released.
type SessionStore interface {
	ingest.TweetStore
	Close(ctx context.Context) error
}

// SourceFactory builds one stream session's source around its handler.
// Injectable so tests run the supervise loop against a fake firehose.
type SourceFactory func(cfg config.StreamConfig, handler stream.Handler) stream.Source

// Session supervises one ingestion listener at a time: while not
// stopped, a dead stream session is torn down and a fresh one (new
// listener, new counters, new connection) is dialed in its place.
type Session struct {
	cfg       *config.Config
	store     SessionStore
	newSource SourceFactory

	mu       sync.Mutex
	listener *ingest.Listener
	source   stream.Source

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewSession builds the session supervisor. It does not dial anything
// until Serve runs.
func NewSession(cfg *config.Config, st SessionStore, factory SourceFactory) *Session {
	if factory == nil {
		factory = func(scfg config.StreamConfig, h stream.Handler) stream.Source {
			return stream.NewWebSocketSource(scfg, h)
		}
	}
	return &Session{
		cfg:       cfg,
		store:     st,
		newSource: factory,
		stopped:   make(chan struct{}),
	}
}

// Serve implements suture.Service: run the supervise loop until the
// context is canceled or a fatal authorization error arrives. The
// fatal case terminates the whole supervisor tree so the process can
// exit non-zero.
func (s *Session) Serve(ctx context.Context) error {
	logging.Info().
		Strs("filters", s.cfg.Stream.Filters).
		Str("db", s.cfg.DB.Address()).
		Msg("Starting stream session supervision")

	first := true
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-s.stopped:
			return nil
		default:
		}

		if err := s.ensureSession(ctx, first); err != nil {
			s.Stop()
			return fmt.Errorf("%w: %w", err, suture.ErrTerminateSupervisorTree)
		}
		first = false

		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-s.stopped:
			return nil
		case err := <-s.fatal():
			logging.Error().Err(err).Msg("Stopping: stream session is not recoverable")
			s.Stop()
			return fmt.Errorf("%w: %w", err, suture.ErrTerminateSupervisorTree)
		case <-time.After(checkInterval):
		}
	}
}

// ensureSession restarts the stream session if the current one is dead.
// Only a fatal authorization rejection is returned; dial failures are
// logged and retried on the next health check.
func (s *Session) ensureSession(ctx context.Context, first bool) error {
	s.mu.Lock()
	alive := s.source != nil && s.source.Running()
	s.mu.Unlock()
	if alive {
		return nil
	}

	if !first {
		logging.Error().Msg("Restarting streaming due to dead connection")
		metrics.StreamReconnects.Inc()
	}
	s.teardownSession()

	// Honor any backoff the previous listener owed before redialing.
	s.sleepBackoff(ctx)

	listener := ingest.NewListener(ctx, s.store, ingest.Config{
		ExpireMinSecs:  s.cfg.DB.Expire.MinSecs,
		ExpireMaxSecs:  s.cfg.DB.Expire.MaxSecs,
		ReportInterval: s.cfg.ReportInterval,
	})
	listener.Connecting()
	source := s.newSource(s.cfg.Stream, listener)

	s.mu.Lock()
	s.listener = listener
	s.source = source
	s.mu.Unlock()

	if err := source.Connect(ctx, s.cfg.Stream.Filters); err != nil {
		// A rejected dial surfaced its status through the listener
		// already; authorization failures are the only fatal case.
		select {
		case ferr := <-listener.Fatal():
			return ferr
		default:
		}
		logging.Warn().Err(err).Msg("Stream dial failed, will retry")
	}
	return nil
}

// sleepBackoff consumes the pending backoff from the previous listener,
// if any, and completes the BackingOff → Connecting transition.
func (s *Session) sleepBackoff(ctx context.Context) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return
	}
	select {
	case d := <-listener.Backoff():
		logging.Info().Dur("backoff", d).Msg("Backing off before reconnect")
		metrics.StreamBackoffSeconds.Add(d.Seconds())
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	default:
	}
}

// fatal exposes the current listener's fatal channel.
func (s *Session) fatal() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Fatal()
}

// teardownSession disconnects and finalizes the current session, if
// any. The listener object survives until the next session replaces it
// so its pending backoff can still be honored.
func (s *Session) teardownSession() {
	s.mu.Lock()
	listener, source := s.listener, s.source
	s.source = nil
	s.mu.Unlock()

	if source != nil {
		source.Disconnect()
	}
	if listener != nil {
		listener.Stop()
		listener.MarkStopped()
	}
}

// Stop shuts the session down: disconnect the stream, finalize the
// listener, release the store connection. Idempotent, and the only
// place shared resources are closed.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		logging.Info().Msg("Stopping tweet streaming")
		s.teardownSession()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Close(ctx); err != nil {
			logging.Warn().Err(err).Msg("Store close failed")
		}
		logging.Info().Msg("Stream session supervision stopped")
	})
}

// Listener returns the active listener, for health inspection.
func (s *Session) Listener() *ingest.Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

// String implements fmt.Stringer for suture logs.
func (s *Session) String() string {
	return "stream-session"
}
