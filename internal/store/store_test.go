// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"
)

// duplicateKeyErr builds the server reply for a unique-index violation.
func duplicateKeyErr() error {
	return mongo.WriteException{
		WriteErrors: mongo.WriteErrors{{
			Code:    11000,
			Message: "E11000 duplicate key error collection: firetap.tweets index: id_1",
		}},
	}
}

func TestClassifyInsert(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		inserted, err := classifyInsert(nil, int64(42))
		if err != nil {
			t.Fatalf("classifyInsert: %v", err)
		}
		if !inserted {
			t.Error("inserted = false on success")
		}
	})

	t.Run("duplicate key is a silent no-op", func(t *testing.T) {
		inserted, err := classifyInsert(duplicateKeyErr(), int64(42))
		if err != nil {
			t.Fatalf("duplicate key surfaced as error: %v", err)
		}
		if inserted {
			t.Error("inserted = true for a duplicate")
		}
	})

	t.Run("wrapped duplicate key still recognized", func(t *testing.T) {
		wrapped := fmt.Errorf("retry exhausted: %w", duplicateKeyErr())
		if _, err := classifyInsert(wrapped, int64(42)); err != nil {
			t.Fatalf("wrapped duplicate key surfaced as error: %v", err)
		}
	})

	t.Run("other write errors propagate", func(t *testing.T) {
		cause := mongo.WriteException{
			WriteErrors: mongo.WriteErrors{{Code: 121, Message: "Document failed validation"}},
		}
		inserted, err := classifyInsert(cause, int64(42))
		if err == nil {
			t.Fatal("validation failure swallowed")
		}
		if inserted {
			t.Error("inserted = true on failure")
		}
	})

	t.Run("transport errors propagate", func(t *testing.T) {
		if _, err := classifyInsert(errors.New("server selection timeout"), nil); err == nil {
			t.Fatal("transport failure swallowed")
		}
	})
}

func TestUpsertUserSkipsMissingID(t *testing.T) {
	// The skip happens before any server round trip, so a zero-value
	// Store is enough: reaching the database would panic.
	s := &Store{}

	for name, user := range map[string]map[string]any{
		"absent id": {"name": "someone"},
		"null id":   {"id": nil, "name": "someone"},
	} {
		t.Run(name, func(t *testing.T) {
			upserted, err := s.UpsertUser(context.Background(), user)
			if err != nil {
				t.Fatalf("UpsertUser: %v", err)
			}
			if upserted {
				t.Error("upserted = true for a record without id")
			}
		})
	}
}
