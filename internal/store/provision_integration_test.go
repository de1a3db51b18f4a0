// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

//go:build integration

package store

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/firetap-io/firetap/internal/config"
)

// Usage:
//   go test -tags integration -run TestProvision ./internal/store/...

const (
	mongoImage = "mongo:7"
	mongoPort  = "27017"
)

// skipIfNoDocker skips the test when the Docker daemon is unreachable.
func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

// startMongo runs a single-node MongoDB container and returns the
// connection settings for it.
func startMongo(t *testing.T, ctx context.Context) (config.DBConfig, testcontainers.Container) {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mongoImage,
			ExposedPorts: []string{mongoPort + "/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(mongoPort+"/tcp"),
				wait.ForLog("Waiting for connections"),
			).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate mongo container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, mongoPort)
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	return config.DBConfig{
		Host: host,
		Port: port.Int(),
		Name: "firetap",
		Expire: config.ExpireConfig{
			MinSecs: 60,
			MaxSecs: 120,
		},
	}, container
}

// indexNames lists the index names of a collection, sorted.
func indexNames(t *testing.T, ctx context.Context, s *Store, coll string) []string {
	t.Helper()

	cursor, err := s.db.Collection(coll).Indexes().List(ctx)
	if err != nil {
		t.Fatalf("list indexes on %s: %v", coll, err)
	}
	var specs []bson.M
	if err := cursor.All(ctx, &specs); err != nil {
		t.Fatalf("read indexes on %s: %v", coll, err)
	}

	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, fmt.Sprint(spec["name"]))
	}
	sort.Strings(names)
	return names
}

func TestProvisionIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	skipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, _ := startMongo(t, ctx)
	s, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	if got := s.DatabaseName(); got != "firetap" {
		t.Errorf("DatabaseName() = %q, want firetap", got)
	}

	if err := s.Provision(ctx); err != nil {
		t.Fatalf("first Provision: %v", err)
	}
	first := map[string][]string{
		TweetsCollection: indexNames(t, ctx, s, TweetsCollection),
		UsersCollection:  indexNames(t, ctx, s, UsersCollection),
	}
	for coll, names := range first {
		// _id is implicit; id (unique) and expire_at (TTL) come from
		// provisioning in unsharded mode.
		if len(names) != 3 {
			t.Errorf("%s indexes after provisioning = %v, want _id + id + expire_at", coll, names)
		}
	}

	// Running provisioning again must neither fail nor change the
	// schema.
	if err := s.Provision(ctx); err != nil {
		t.Fatalf("second Provision: %v", err)
	}
	for coll, before := range first {
		after := indexNames(t, ctx, s, coll)
		if len(after) != len(before) {
			t.Errorf("%s indexes changed on re-provision: %v -> %v", coll, before, after)
			continue
		}
		for i := range before {
			if after[i] != before[i] {
				t.Errorf("%s indexes changed on re-provision: %v -> %v", coll, before, after)
				break
			}
		}
	}
}

func TestStoreRoundTripIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	skipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, _ := startMongo(t, ctx)
	s, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	if err := s.Provision(ctx); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	doc := map[string]any{"id": int64(42), "text": "hello"}

	inserted, err := s.InsertTweet(ctx, doc)
	if err != nil || !inserted {
		t.Fatalf("InsertTweet: inserted=%v err=%v", inserted, err)
	}

	// Re-delivery of the same id hits the unique index and must be a
	// silent no-op.
	inserted, err = s.InsertTweet(ctx, map[string]any{"id": int64(42), "text": "again"})
	if err != nil {
		t.Fatalf("duplicate InsertTweet: %v", err)
	}
	if inserted {
		t.Error("duplicate insert reported as inserted")
	}

	found, err := s.FindTweet(ctx, int64(42))
	if err != nil {
		t.Fatalf("FindTweet: %v", err)
	}
	if found == nil || found["text"] != "hello" {
		t.Errorf("FindTweet = %v, want the first write", found)
	}

	if found, err := s.FindTweet(ctx, int64(999)); err != nil || found != nil {
		t.Errorf("FindTweet on absent id = %v, %v; want nil, nil", found, err)
	}

	deleted, err := s.DeleteTweet(ctx, int64(42))
	if err != nil || !deleted {
		t.Fatalf("DeleteTweet: deleted=%v err=%v", deleted, err)
	}
	if deleted, err := s.DeleteTweet(ctx, int64(42)); err != nil || deleted {
		t.Errorf("second DeleteTweet = %v, %v; want false, nil", deleted, err)
	}

	upserted, err := s.UpsertUser(ctx, map[string]any{"id": int64(7), "name": "someone"})
	if err != nil || !upserted {
		t.Fatalf("UpsertUser: upserted=%v err=%v", upserted, err)
	}
	upserted, err = s.UpsertUser(ctx, map[string]any{"id": int64(7), "name": "renamed"})
	if err != nil || !upserted {
		t.Fatalf("UpsertUser update: upserted=%v err=%v", upserted, err)
	}
	var user map[string]any
	err = s.db.Collection(UsersCollection).FindOne(ctx, bson.M{"id": int64(7)}).Decode(&user)
	if err != nil {
		t.Fatalf("read back user: %v", err)
	}
	if user["name"] != "renamed" {
		t.Errorf("user name = %v, want last write to win", user["name"])
	}
}
