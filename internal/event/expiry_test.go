// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package event

import (
	"testing"
	"time"
)

func TestAttachExpiry(t *testing.T) {
	created := time.Date(2018, time.October, 10, 20, 19, 24, 0, time.UTC)

	t.Run("draw stays within bounds", func(t *testing.T) {
		// Repeated draws cover the uniform range without asserting a
		// particular value.
		for i := 0; i < 200; i++ {
			doc := map[string]any{"id": int64(42), CreatedAtField: created}
			AttachExpiry(doc, 60, 120)

			expireAt, ok := doc[ExpireAtField].(time.Time)
			if !ok {
				t.Fatalf("expire_at is %T, want time.Time", doc[ExpireAtField])
			}
			lo := created.Add(60 * time.Second)
			hi := created.Add(120 * time.Second)
			if expireAt.Before(lo) || expireAt.After(hi) {
				t.Fatalf("expire_at = %v, want within [%v, %v]", expireAt, lo, hi)
			}
		}
	})

	t.Run("degenerate range is exact", func(t *testing.T) {
		doc := map[string]any{CreatedAtField: created}
		AttachExpiry(doc, 90, 90)
		if got := doc[ExpireAtField]; got != created.Add(90*time.Second) {
			t.Errorf("expire_at = %v, want created+90s", got)
		}
	})

	t.Run("disabled bounds are a no-op", func(t *testing.T) {
		for name, bounds := range map[string][2]int{
			"both zero":    {0, 0},
			"min zero":     {0, 120},
			"max zero":     {60, 0},
			"min over max": {120, 60},
		} {
			doc := map[string]any{CreatedAtField: created}
			AttachExpiry(doc, bounds[0], bounds[1])
			if _, has := doc[ExpireAtField]; has {
				t.Errorf("%s: expire_at attached with bounds %v", name, bounds)
			}
		}
	})

	t.Run("missing created_at is a no-op", func(t *testing.T) {
		doc := map[string]any{"id": int64(42)}
		AttachExpiry(doc, 60, 120)
		if _, has := doc[ExpireAtField]; has {
			t.Error("expire_at attached without created_at")
		}
	})
}
