// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

// Package store persists normalized firehose documents into MongoDB.
//
// Two collections are maintained: tweets (one document per event,
// unique id) and users (denormalized author projection, upserted on
// every matching event). The package also provisions schema (indexes
// and, against a mongos router, sharding) idempotently at startup.
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/firetap-io/firetap/internal/config"
	"github.com/firetap-io/firetap/internal/logging"
)

// Collection names.
const (
	TweetsCollection = "tweets"
	UsersCollection  = "users"
)

const connectTimeout = 10 * time.Second

// Store wraps a MongoDB client scoped to the firetap database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	cfg    config.DBConfig
}

// Connect dials the configured MongoDB endpoint and verifies it with a
// ping. The returned Store is owned by the session supervisor, which is
// the single place it gets closed.
func Connect(ctx context.Context, cfg config.DBConfig) (*Store, error) {
	opts := options.Client().
		SetHosts([]string{cfg.Address()}).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout)
	if cfg.User != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.User,
			Password:   cfg.Password,
			AuthSource: cfg.AuthDB,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Address(), err)
	}
	s := &Store{client: client, db: client.Database(cfg.Name), cfg: cfg}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping %s: %w", cfg.Address(), err)
	}
	return s, nil
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close releases the underlying client. Safe to call once per Store.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// InsertTweet writes one tweet document. A duplicate-key response is an
// idempotent re-delivery, reported as inserted=false with no error.
func (s *Store) InsertTweet(ctx context.Context, doc map[string]any) (bool, error) {
	_, err := s.db.Collection(TweetsCollection).InsertOne(ctx, doc)
	return classifyInsert(err, doc["id"])
}

// classifyInsert maps an InsertOne outcome onto the (inserted, err)
// contract: a duplicate-key violation of the unique id index is an
// idempotent no-op, every other failure propagates.
func classifyInsert(err error, id any) (bool, error) {
	if err == nil {
		return true, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		logging.Debug().Interface("id", id).Msg("Duplicate tweet ignored")
		return false, nil
	}
	return false, fmt.Errorf("insert tweet: %w", err)
}

// UpsertUser writes the author projection keyed by its id, last write
// wins. A record without an id is skipped entirely rather than written
// under a null key; the skip is reported as upserted=false, nil error.
func (s *Store) UpsertUser(ctx context.Context, user map[string]any) (bool, error) {
	id, ok := user["id"]
	if !ok || id == nil {
		logging.Warn().Msg("Author record without id, upsert skipped")
		return false, nil
	}
	_, err := s.db.Collection(UsersCollection).UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{"$set": user},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("upsert user %v: %w", id, err)
	}
	return true, nil
}

// FindTweet looks one tweet up by id. A missing document is not an
// error: both return values are nil.
func (s *Store) FindTweet(ctx context.Context, id any) (map[string]any, error) {
	var doc map[string]any
	err := s.db.Collection(TweetsCollection).FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find tweet %v: %w", id, err)
	}
	return doc, nil
}

// DeleteTweet removes one tweet by id. Deleting an absent key is not an
// error; deleted reports whether a document actually went away.
func (s *Store) DeleteTweet(ctx context.Context, id any) (bool, error) {
	res, err := s.db.Collection(TweetsCollection).DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return false, fmt.Errorf("delete tweet %v: %w", id, err)
	}
	return res.DeletedCount > 0, nil
}

// DatabaseName returns the database this store writes to.
func (s *Store) DatabaseName() string {
	return s.db.Name()
}
