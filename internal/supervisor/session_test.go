// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/firetap-io/firetap/internal/config"
	"github.com/firetap-io/firetap/internal/ingest"
	"github.com/firetap-io/firetap/internal/stream"
)

type fakeSource struct {
	handler stream.Handler

	mu          sync.Mutex
	running     bool
	connectErr  error
	rejectWith  int
	disconnects int
}

func (f *fakeSource) Connect(_ context.Context, _ []string) error {
	if f.rejectWith != 0 {
		f.handler.OnError(f.rejectWith)
		return errors.New("upgrade rejected")
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.disconnects++
}

func (f *fakeSource) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSource) die() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

type fakeSessionStore struct {
	closes atomic.Int32
}

func (f *fakeSessionStore) InsertTweet(_ context.Context, _ map[string]any) (bool, error) {
	return true, nil
}

func (f *fakeSessionStore) UpsertUser(_ context.Context, _ map[string]any) (bool, error) {
	return true, nil
}

func (f *fakeSessionStore) Close(_ context.Context) error {
	f.closes.Add(1)
	return nil
}

// sourceRecorder builds fake sources and remembers each one.
type sourceRecorder struct {
	mu      sync.Mutex
	sources []*fakeSource
	next    *fakeSource
}

func (r *sourceRecorder) factory(_ config.StreamConfig, h stream.Handler) stream.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.next
	if src == nil {
		src = &fakeSource{}
	}
	r.next = nil
	src.handler = h
	r.sources = append(r.sources, src)
	return src
}

func (r *sourceRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

func testConfig() *config.Config {
	return &config.Config{
		Stream: config.StreamConfig{
			URL:     "wss://stream.example.com/1.1/statuses/filter.json",
			Filters: []string{"golang"},
		},
	}
}

func TestSessionRestartsDeadSource(t *testing.T) {
	rec := &sourceRecorder{}
	sess := NewSession(testConfig(), &fakeSessionStore{}, rec.factory)
	ctx := context.Background()

	if err := sess.ensureSession(ctx, true); err != nil {
		t.Fatalf("ensureSession: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("sources = %d, want 1", rec.count())
	}

	// A healthy source is left alone.
	if err := sess.ensureSession(ctx, false); err != nil {
		t.Fatalf("ensureSession: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("healthy source replaced: sources = %d", rec.count())
	}

	// A dead one gets torn down and replaced with a fresh listener.
	before := sess.Listener()
	rec.sources[0].die()
	if err := sess.ensureSession(ctx, false); err != nil {
		t.Fatalf("ensureSession: %v", err)
	}
	if rec.count() != 2 {
		t.Fatalf("sources = %d, want 2 after restart", rec.count())
	}
	if sess.Listener() == before {
		t.Error("listener not replaced on restart")
	}
	if before.State() != ingest.Stopped {
		t.Errorf("old listener state = %v, want %v", before.State(), ingest.Stopped)
	}
}

func TestSessionDialFailureIsRetried(t *testing.T) {
	rec := &sourceRecorder{next: &fakeSource{connectErr: errors.New("connection refused")}}
	sess := NewSession(testConfig(), &fakeSessionStore{}, rec.factory)

	if err := sess.ensureSession(context.Background(), true); err != nil {
		t.Fatalf("ensureSession turned a dial failure fatal: %v", err)
	}
	if err := sess.ensureSession(context.Background(), false); err != nil {
		t.Fatalf("ensureSession: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("sources = %d, want a second dial attempt", rec.count())
	}
}

func TestSessionFatalTerminatesTree(t *testing.T) {
	rec := &sourceRecorder{next: &fakeSource{rejectWith: 401}}
	sess := NewSession(testConfig(), &fakeSessionStore{}, rec.factory)

	done := make(chan error, 1)
	go func() { done <- sess.Serve(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ingest.ErrUnauthorized) {
			t.Errorf("Serve returned %v, want ErrUnauthorized in chain", err)
		}
		if !errors.Is(err, suture.ErrTerminateSupervisorTree) {
			t.Errorf("Serve returned %v, want ErrTerminateSupervisorTree in chain", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not terminate on authorization rejection")
	}
}

func TestSessionStop(t *testing.T) {
	rec := &sourceRecorder{}
	st := &fakeSessionStore{}
	sess := NewSession(testConfig(), st, rec.factory)

	done := make(chan error, 1)
	go func() { done <- sess.Serve(context.Background()) }()

	// Wait for the first session to come up.
	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() == 0 {
		t.Fatal("no session started")
	}

	sess.Stop()
	sess.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v on clean stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	if got := st.closes.Load(); got != 1 {
		t.Errorf("store closed %d times, want exactly 1", got)
	}
	if rec.sources[0].disconnects == 0 {
		t.Error("source not disconnected on Stop")
	}
}

func TestSessionBackoffConsumed(t *testing.T) {
	rec := &sourceRecorder{}
	sess := NewSession(testConfig(), &fakeSessionStore{}, rec.factory)
	ctx := context.Background()

	if err := sess.ensureSession(ctx, true); err != nil {
		t.Fatalf("ensureSession: %v", err)
	}
	listener := sess.Listener()
	listener.OnException(errors.New("connection reset"))
	if listener.State() != ingest.BackingOff {
		t.Fatalf("listener state = %v, want %v", listener.State(), ingest.BackingOff)
	}

	// A canceled context skips the sleep but must still drain the
	// pending backoff so the next session starts clean.
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	sess.sleepBackoff(canceled)

	select {
	case d := <-listener.Backoff():
		t.Errorf("backoff %v left pending after sleepBackoff", d)
	default:
	}
}
