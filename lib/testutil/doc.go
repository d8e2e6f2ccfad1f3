// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by liaport tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern, so tests never call time.After themselves. They are the
// only place tests wait on the wall clock.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are capped at 108 bytes.
//
// [LogRecorder] is a slog.Handler that keeps every record, for tests
// asserting that a diagnostic was (or was not) logged.
//
// Helpers call t.Fatalf on failure.
package testutil
