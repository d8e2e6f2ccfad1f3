// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownBackend rejects a connect for an unrecognized tag.
	ErrUnknownBackend = errors.New("realtime: unknown backend")

	// ErrPublishWithoutAdapter is returned by Publish when no session
	// is connected. The event is dropped.
	ErrPublishWithoutAdapter = errors.New("realtime: publish without a connected adapter")

	// ErrReadyTimeout fails a session whose backend accepted the
	// connection but never confirmed it.
	ErrReadyTimeout = errors.New("realtime: backend did not become ready")

	// ErrOutboxFull is returned when an adapter cannot keep up.
	ErrOutboxFull = errors.New("realtime: outbox full")

	// ErrOutboxClosed is returned after the adapter disconnected.
	ErrOutboxClosed = errors.New("realtime: outbox closed")
)

// ConnectError reports a failed connection attempt.
type ConnectError struct {
	Backend Backend
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("realtime: connecting to %s: %v", e.Backend, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
