// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package ingest

import "sync/atomic"

// State is the lifecycle state of one stream session.
type State int32

// Session states. A session only ever moves forward into Stopping and
// Stopped; everything before that can cycle through
// Connecting → Streaming → BackingOff → Connecting.
const (
	Disconnected State = iota
	Connecting
	Streaming
	BackingOff
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case BackingOff:
		return "backing_off"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// stateVar is an atomic State holder.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) get() State {
	return State(s.v.Load())
}

func (s *stateVar) set(next State) {
	s.v.Store(int32(next))
}

// advance moves to next only from the given current state, reporting
// whether the transition happened.
func (s *stateVar) advance(from, next State) bool {
	return s.v.CompareAndSwap(int32(from), int32(next))
}
