// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

// Package queue provides the shared FIFO work queue feeding the worker
// pool. Producers enqueue secondary-operation requests; workers drain
// them independently of ingestion.
//
// Two implementations exist: an in-process memory queue and a NATS
// JetStream work-queue stream for coordination across processes. Both
// guarantee at-most-once visible consumption per item and nothing
// stronger than FIFO-ish ordering.
package queue

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// Op names a worker flavor. Each flavor drains its own queue; the item
// itself is only a key, and the operation performed on it is the
// property of the worker that dequeues it.
type Op string

// Supported operations.
const (
	OpFind   Op = "find"
	OpDelete Op = "delete"
)

// Item is one queued operation request: the opaque key a worker feeds
// into its store operation.
type Item struct {
	Key any `json:"key"`
}

// Queue is a concurrency-safe FIFO of work items.
type Queue interface {
	// Enqueue appends one item.
	Enqueue(ctx context.Context, item Item) error

	// TryDequeue removes the oldest item without blocking. ok is false
	// on an empty queue; losing the race for the last item is not an
	// error.
	TryDequeue(ctx context.Context) (item Item, ok bool, err error)

	// Depth reports the number of queued items.
	Depth(ctx context.Context) (int, error)

	// Close releases queue resources.
	Close() error
}

// EncodeItem serializes an item for the wire.
func EncodeItem(item Item) ([]byte, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode work item: %w", err)
	}
	return data, nil
}

// DecodeItem deserializes a wire item. Integral keys come back as
// int64, not float64, so they keep matching the stored document ids.
func DecodeItem(data []byte) (Item, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var item Item
	if err := dec.Decode(&item); err != nil {
		return Item{}, fmt.Errorf("decode work item: %w", err)
	}
	if n, ok := item.Key.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			item.Key = i
		} else if f, err := n.Float64(); err == nil {
			item.Key = f
		}
	}
	return item, nil
}
