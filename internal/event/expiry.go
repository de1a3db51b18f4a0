// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package event

import (
	"math/rand/v2"
	"time"
)

// ExpireAtField carries the absolute expiry timestamp consumed by the
// store's TTL index.
const ExpireAtField = "expire_at"

// AttachExpiry annotates doc with an expire_at drawn uniformly from
// [min, max] seconds after the document's creation timestamp.
//
// No-op when either bound is unset (<= 0) or the document lacks a
// parsed created_at. math/rand/v2 top-level draws are goroutine-safe
// with no shared seed state, so concurrent callers get independent
// draws.
func AttachExpiry(doc map[string]any, minSecs, maxSecs int) {
	if minSecs <= 0 || maxSecs <= 0 || minSecs > maxSecs {
		return
	}
	created, ok := CreatedAt(doc)
	if !ok {
		return
	}
	ttl := minSecs + rand.IntN(maxSecs-minSecs+1)
	doc[ExpireAtField] = created.Add(time.Duration(ttl) * time.Second)
}
