// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package ingest

import "errors"

// ErrUnauthorized is the non-recoverable authorization rejection from
// the stream source. It escapes the listener and terminates the
// process with a non-zero exit.
var ErrUnauthorized = errors.New("stream authorization rejected")
