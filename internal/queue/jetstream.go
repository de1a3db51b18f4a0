// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/firetap-io/firetap/internal/logging"
)

// JetStream backs one work queue with a NATS JetStream work-queue
// stream so producers and worker processes can live on different
// machines. Each worker flavor gets its own subject and durable
// consumer under a shared stream; the work-queue retention policy
// removes a message once a consumer acknowledges it, which gives the
// at-most-once visible consumption the pool relies on.
type JetStream struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	subject  string
}

// NewJetStream connects to NATS and provisions the work-queue stream
// and the durable consumer for the given worker flavor. Provisioning
// is idempotent across processes.
func NewJetStream(ctx context.Context, url, streamName string, op Op) (*JetStream, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("Queue NATS connection lost")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("Queue NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	subject := streamName + ".ops." + string(op)
	streamCfg := jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{streamName + ".ops.*"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		Discard:   jetstream.DiscardOld,
	}
	stream, err := js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure work-queue stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "firetap-" + string(op),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure work-queue consumer: %w", err)
	}

	return &JetStream{nc: nc, js: js, consumer: consumer, subject: subject}, nil
}

// Enqueue publishes one item onto the work-queue stream.
func (q *JetStream) Enqueue(ctx context.Context, item Item) error {
	data, err := EncodeItem(item)
	if err != nil {
		return err
	}
	if _, err := q.js.Publish(ctx, q.subject, data); err != nil {
		return fmt.Errorf("publish work item: %w", err)
	}
	return nil
}

// TryDequeue fetches at most one message without waiting. The message
// is acknowledged before it is returned; a worker crash mid-operation
// loses the item rather than redelivering it, matching the queue's
// at-most-once contract.
func (q *JetStream) TryDequeue(_ context.Context) (Item, bool, error) {
	batch, err := q.consumer.FetchNoWait(1)
	if err != nil {
		return Item{}, false, fmt.Errorf("fetch work item: %w", err)
	}

	for msg := range batch.Messages() {
		if err := msg.Ack(); err != nil {
			return Item{}, false, fmt.Errorf("ack work item: %w", err)
		}
		item, err := DecodeItem(msg.Data())
		if err != nil {
			return Item{}, false, err
		}
		return item, true, nil
	}
	if err := batch.Error(); err != nil {
		return Item{}, false, fmt.Errorf("fetch work item: %w", err)
	}
	return Item{}, false, nil
}

// Depth reports messages waiting on the shared consumer.
func (q *JetStream) Depth(ctx context.Context) (int, error) {
	info, err := q.consumer.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("consumer info: %w", err)
	}
	return int(info.NumPending), nil
}

// Close drains the NATS connection.
func (q *JetStream) Close() error {
	return q.nc.Drain()
}
