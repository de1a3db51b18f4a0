// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

// Package event normalizes raw firehose payloads into documents ready
// for storage. Normalization is a pure structural recursion over the
// decoded JSON tree: objects key-by-key, arrays element-by-element,
// scalars unchanged, except the "created_at" field, whose textual
// timestamp is parsed into a time.Time at any depth.
package event

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// CreatedAtField is the designated timestamp field rewritten during
// normalization.
const CreatedAtField = "created_at"

// timeLayouts are the accepted textual timestamp formats. The firehose
// layout comes first; the rest cover payloads that were re-serialized
// upstream.
var timeLayouts = []string{
	"Mon Jan 02 15:04:05 -0700 2006",
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
}

// Normalize decodes a raw firehose payload and rewrites it into a
// normalized document. It never panics; malformed input at any depth
// fails the whole normalization.
//
// Numbers decode through json.Number and are converted to int64 when
// integral so 64-bit ids survive (float64 corrupts ids above 2^53).
func Normalize(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	normalized, err := normalizeValue(decoded, false)
	if err != nil {
		return nil, err
	}
	doc, ok := normalized.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("event is %T, not an object", decoded)
	}
	return doc, nil
}

// Renormalize applies normalization to an already-decoded document.
// Idempotent: values that are already normalized (timestamps parsed,
// numbers concrete) pass through unchanged, so
// Renormalize(Renormalize(x)) == Renormalize(x).
func Renormalize(doc map[string]any) (map[string]any, error) {
	normalized, err := normalizeValue(doc, false)
	if err != nil {
		return nil, err
	}
	return normalized.(map[string]any), nil
}

// normalizeValue walks one node of the tree. The decoded JSON value is
// already a tagged variant (object / array / scalar arms), so the walk
// is a type switch over exactly those arms.
func normalizeValue(data any, isCreatedAt bool) (any, error) {
	// created_at is either a textual timestamp or already parsed; a
	// numeric epoch or any other shape fails the whole event.
	if isCreatedAt {
		switch v := data.(type) {
		case string:
			return ParseTimestamp(v)
		case time.Time:
			return v, nil
		default:
			return nil, fmt.Errorf("%s is %T, not a timestamp string", CreatedAtField, data)
		}
	}

	switch v := data.(type) {
	case map[string]any:
		parsed := make(map[string]any, len(v))
		for key, val := range v {
			norm, err := normalizeValue(val, key == CreatedAtField)
			if err != nil {
				return nil, err
			}
			parsed[key] = norm
		}
		return parsed, nil

	case []any:
		parsed := make([]any, len(v))
		for i, item := range v {
			norm, err := normalizeValue(item, false)
			if err != nil {
				return nil, err
			}
			parsed[i] = norm
		}
		return parsed, nil

	case json.Number:
		return normalizeNumber(v)

	default:
		// string, bool, float64/int64 (renormalize path), nil.
		return v, nil
	}
}

func normalizeNumber(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("number %q: %w", n.String(), err)
	}
	return f, nil
}

// ParseTimestamp parses a textual created_at value against the accepted
// layouts.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized %s timestamp %q", CreatedAtField, s)
}

// ID extracts the document id, present only when the event carried an
// integral or string identifier.
func ID(doc map[string]any) (any, bool) {
	id, ok := doc["id"]
	if !ok || id == nil {
		return nil, false
	}
	return id, true
}

// CreatedAt returns the parsed creation timestamp, if present.
func CreatedAt(doc map[string]any) (time.Time, bool) {
	ts, ok := doc[CreatedAtField].(time.Time)
	return ts, ok
}

// Author returns the embedded author sub-record, if present.
func Author(doc map[string]any) (map[string]any, bool) {
	user, ok := doc["user"].(map[string]any)
	return user, ok
}
