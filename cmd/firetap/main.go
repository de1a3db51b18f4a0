// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

// Command firetap connects a filtered firehose stream to a MongoDB
// deployment: documents are normalized, stamped with a TTL, and
// inserted as they arrive, while a decoupled worker pool drains
// queued point lookups and deletes against the same collections.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firetap-io/firetap/internal/admin"
	"github.com/firetap-io/firetap/internal/config"
	"github.com/firetap-io/firetap/internal/ingest"
	"github.com/firetap-io/firetap/internal/logging"
	"github.com/firetap-io/firetap/internal/queue"
	"github.com/firetap-io/firetap/internal/store"
	"github.com/firetap-io/firetap/internal/supervisor"
	"github.com/firetap-io/firetap/internal/worker"
)

const startupTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	if err := logging.Init(logging.Config{
		Level:    cfg.Log.Level(),
		Format:   cfg.Log.Format,
		FilePath: cfg.Log.File,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}
	defer logging.Close()

	logging.Info().
		Str("db", cfg.DB.Address()).
		Str("stream", cfg.Stream.URL).
		Msg("Starting firetap")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	// The store must be reachable and provisioned before any pipeline
	// starts; a deployment we cannot prepare is a startup failure, not
	// something to retry around.
	st, err := store.Connect(startupCtx, cfg.DB)
	if err != nil {
		logging.Err(err).Msg("Store connection failed")
		return 1
	}
	logging.Info().Str("db", st.DatabaseName()).Msg("Store connected")
	if err := st.Provision(startupCtx); err != nil {
		logging.Err(err).Msg("Store provisioning failed")
		closeStore(st)
		return 1
	}

	findQ, deleteQ, err := buildQueues(startupCtx, cfg.Queue)
	if err != nil {
		logging.Err(err).Msg("Queue setup failed")
		closeStore(st)
		return 1
	}
	defer findQ.Close()
	defer deleteQ.Close()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{})

	session := supervisor.NewSession(cfg, st, nil)
	tree.AddIngestService(session)

	addWorkers(tree, cfg.Queue, st, findQ, deleteQ)

	if cfg.Admin.Enabled {
		tree.AddWorkerService(admin.NewServer(cfg.Admin.Addr, admin.Queues{
			Find:   findQ,
			Delete: deleteQ,
		}))
	}

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		// The tree only terminates on its own for fatal errors, the
		// authorization rejection among them.
		session.Stop()
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree terminated")
			return 1
		}
		return 0
	}

	stop()
	session.Stop()
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, ingest.ErrUnauthorized) {
			logging.Error().Err(err).Msg("Stream authorization rejected")
			return 1
		}
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		return 1
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}

	logging.Info().Msg("Shutdown complete")
	return 0
}

// buildQueues creates the per-flavor work queue handles, backed by
// JetStream when a NATS URL is configured and by process-local memory
// queues otherwise.
func buildQueues(ctx context.Context, cfg config.QueueConfig) (findQ, deleteQ queue.Queue, err error) {
	if cfg.NATSURL == "" {
		return queue.NewMemory(), queue.NewMemory(), nil
	}

	findQ, err = queue.NewJetStream(ctx, cfg.NATSURL, cfg.Stream, queue.OpFind)
	if err != nil {
		return nil, nil, fmt.Errorf("find queue: %w", err)
	}
	deleteQ, err = queue.NewJetStream(ctx, cfg.NATSURL, cfg.Stream, queue.OpDelete)
	if err != nil {
		findQ.Close()
		return nil, nil, fmt.Errorf("delete queue: %w", err)
	}
	return findQ, deleteQ, nil
}

func addWorkers(tree *supervisor.Tree, cfg config.QueueConfig, st *store.Store, findQ, deleteQ queue.Queue) {
	wcfg := worker.Config{
		MinQueued:    cfg.MinQueued,
		PollInterval: cfg.PollInterval,
	}
	for i := 0; i < cfg.FindWorkers; i++ {
		name := fmt.Sprintf("find-%d", i)
		tree.AddWorkerService(worker.New(name, findQ, worker.FindOp{Store: st}, wcfg))
	}
	for i := 0; i < cfg.DeleteWorkers; i++ {
		name := fmt.Sprintf("delete-%d", i)
		tree.AddWorkerService(worker.New(name, deleteQ, worker.DeleteOp{Store: st}, wcfg))
	}
}

func closeStore(st *store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Close(ctx); err != nil {
		logging.Warn().Err(err).Msg("Store close failed")
	}
}
