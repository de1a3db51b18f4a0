// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/firetap-io/firetap/internal/logging"
)

// Server error codes treated as idempotency signals, not failures.
const (
	codeShardingAlreadyEnabled   = 23
	codeCollectionAlreadySharded = 20
)

// collections are the two logical collections firetap maintains.
var collections = []string{TweetsCollection, UsersCollection}

// Provision ensures indexes and, against a mongos router, sharding.
// Running it N times yields the same schema as running it once;
// "already enabled/sharded" responses from the server are successes.
// Every other error propagates; the process cannot safely run with an
// unverified schema.
func (s *Store) Provision(ctx context.Context) error {
	router, err := s.isRouter(ctx)
	if err != nil {
		return fmt.Errorf("detect topology: %w", err)
	}
	if router {
		logging.Info().Msg("Detected mongos router, provisioning in sharded mode")
		return s.provisionSharded(ctx)
	}

	logging.Info().Str("addr", s.cfg.Address()).Msg("Ensuring indices")
	for _, coll := range collections {
		if err := ensureIndexes(ctx, s.db, coll, false, s.cfg.Expire.Enabled()); err != nil {
			return err
		}
	}
	return nil
}

// isRouter reports whether the connected endpoint is a mongos
// routing/aggregation tier.
func (s *Store) isRouter(ctx context.Context) (bool, error) {
	var reply struct {
		Msg string `bson:"msg"`
	}
	err := s.client.Database("admin").
		RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).
		Decode(&reply)
	if err != nil {
		return false, err
	}
	return isRouterReply(reply.Msg), nil
}

// isRouterReply classifies the hello response: mongos answers with
// msg "isdbgrid".
func isRouterReply(msg string) bool {
	return msg == "isdbgrid"
}

func (s *Store) provisionSharded(ctx context.Context) error {
	logging.Info().Str("db", s.db.Name()).Msg("Ensuring sharding is enabled")
	err := s.client.Database("admin").
		RunCommand(ctx, bson.D{{Key: "enableSharding", Value: s.db.Name()}}).
		Err()
	if err != nil && !isIdempotencySignal(err, codeShardingAlreadyEnabled) {
		return fmt.Errorf("enable sharding on %s: %w", s.db.Name(), err)
	}

	if err := s.provisionShardMembers(ctx); err != nil {
		return err
	}

	// Shard-key assignment happens at the router, after the hashed
	// index exists on every member.
	for _, coll := range collections {
		ns := s.db.Name() + "." + coll
		logging.Info().Str("ns", ns).Msg("Ensuring collection is sharded")
		err := s.client.Database("admin").
			RunCommand(ctx, bson.D{
				{Key: "shardCollection", Value: ns},
				{Key: "key", Value: bson.D{{Key: "id", Value: "hashed"}}},
			}).
			Err()
		if err != nil && !isIdempotencySignal(err, codeCollectionAlreadySharded) {
			return fmt.Errorf("shard collection %s: %w", ns, err)
		}
	}
	return nil
}

// provisionShardMembers opens a direct connection to each shard member
// listed in config.shards and ensures its indexes, hashed id included.
func (s *Store) provisionShardMembers(ctx context.Context) error {
	cursor, err := s.client.Database("config").Collection("shards").Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("list shards: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var shard struct {
			ID   string `bson:"_id"`
			Host string `bson:"host"`
		}
		if err := cursor.Decode(&shard); err != nil {
			return fmt.Errorf("decode shard document: %w", err)
		}
		if err := s.provisionShard(ctx, shard.ID, shard.Host); err != nil {
			return err
		}
	}
	return cursor.Err()
}

func (s *Store) provisionShard(ctx context.Context, id, host string) error {
	logging.Info().Str("shard", id).Str("host", host).Msg("Ensuring indices on shard")

	replicaSet, hosts := parseShardHost(host)
	opts := options.Client().
		SetHosts(hosts).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout).
		SetReadPreference(readpref.Primary())
	if replicaSet != "" {
		opts.SetReplicaSet(replicaSet)
	}
	if s.cfg.User != "" {
		opts.SetAuth(options.Credential{
			Username:   s.cfg.User,
			Password:   s.cfg.Password,
			AuthSource: s.cfg.AuthDB,
		})
	}

	shardClient, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("connect to shard %s: %w", id, err)
	}
	defer func() {
		if derr := shardClient.Disconnect(ctx); derr != nil {
			logging.Warn().Err(derr).Str("shard", id).Msg("Shard connection close failed")
		}
	}()

	db := shardClient.Database(s.db.Name())
	for _, coll := range collections {
		if err := ensureIndexes(ctx, db, coll, true, s.cfg.Expire.Enabled()); err != nil {
			return fmt.Errorf("shard %s: %w", id, err)
		}
	}
	return nil
}

// parseShardHost splits a config.shards host string of the form
// "rs0/host1:27018,host2:27018". A bare host list has no replica-set
// prefix.
func parseShardHost(host string) (replicaSet string, hosts []string) {
	if i := strings.IndexByte(host, '/'); i >= 0 {
		replicaSet, host = host[:i], host[i+1:]
	}
	for _, h := range strings.Split(host, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return replicaSet, hosts
}

// ensureIndexes creates the unique ascending id index, the hashed id
// index when provisioning a shard member (the shard key index must
// exist before shard-key assignment), and the TTL expire_at index when
// expiry is configured.
func ensureIndexes(ctx context.Context, db *mongo.Database, coll string, sharded, expire bool) error {
	ns := db.Name() + "." + coll
	indexes := db.Collection(coll).Indexes()

	logging.Debug().Str("ns", ns).Msg("Ensuring unique 'id' index")
	models := []mongo.IndexModel{{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}}
	if sharded {
		logging.Debug().Str("ns", ns).Msg("Ensuring hashed 'id' index for sharding")
		models = append(models, mongo.IndexModel{
			Keys: bson.D{{Key: "id", Value: "hashed"}},
		})
	}
	if expire {
		logging.Debug().Str("ns", ns).Msg("Ensuring TTL 'expire_at' index")
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: "expire_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		})
	}

	if _, err := indexes.CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create indexes on %s: %w", ns, err)
	}
	return nil
}

// isIdempotencySignal reports whether err is the given server error
// code, meaning the requested state already holds.
func isIdempotencySignal(err error, code int32) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == code
	}
	return false
}
