// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned for operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Memory is an in-process FIFO queue. All coordination happens through
// its own mutex; callers never add locking of their own.
type Memory struct {
	mu     sync.Mutex
	items  []Item
	closed bool
}

// NewMemory returns an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{}
}

// Enqueue appends one item.
func (m *Memory) Enqueue(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.items = append(m.items, item)
	return nil
}

// TryDequeue pops the oldest item, if any.
func (m *Memory) TryDequeue(_ context.Context) (Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Item{}, false, ErrClosed
	}
	if len(m.items) == 0 {
		return Item{}, false, nil
	}
	item := m.items[0]
	m.items = m.items[1:]
	return item, true, nil
}

// Depth reports the queued item count.
func (m *Memory) Depth(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.items), nil
}

// Close marks the queue closed. Pending items are discarded.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	return nil
}
