// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Config{Level: "debug", Format: "json", Output: &buf}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{}) })

	Info().Str("component", "test").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "hello" || entry["component"] != "test" {
		t.Errorf("entry = %v", entry)
	}
}

func TestInitLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Config{Level: "warn", Format: "json", Output: &buf}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{}) })

	Debug().Msg("too quiet")
	Info().Msg("still too quiet")
	Warn().Msg("audible")

	out := buf.String()
	if strings.Contains(out, "too quiet") {
		t.Errorf("below-level entries written: %q", out)
	}
	if !strings.Contains(out, "audible") {
		t.Errorf("warn entry missing: %q", out)
	}
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	SetLogger(NewTestLogger(&buf))
	t.Cleanup(func() { SetLogger(prev) })

	Err(nil).Msg("captured")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("captured line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "captured" {
		t.Errorf("entry = %v", entry)
	}
	// zerolog treats a nil error in Err as informational.
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info for nil error", entry["level"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"WARN":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"unknown": zerolog.InfoLevel,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestFileTee(t *testing.T) {
	var buf bytes.Buffer
	path := t.TempDir() + "/firetap.log"
	if err := Init(Config{Level: "info", Format: "json", Output: &buf, FilePath: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{}) })

	Info().Msg("teed")
	Close()

	if !strings.Contains(buf.String(), "teed") {
		t.Error("primary writer missed the entry")
	}
}
