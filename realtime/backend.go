// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/liaport/event"
)

// Backend is the tag selecting an adapter.
type Backend string

const (
	Beaker Backend = "beaker"
	Gun    Backend = "gun"
	Jitsi  Backend = "jitsi"
	Matrix Backend = "matrix"
	Pubnub Backend = "pubnub"
)

// Backends lists every tag in discovery order.
func Backends() []Backend {
	return []Backend{Beaker, Gun, Jitsi, Matrix, Pubnub}
}

// ParseBackend rejects anything but the five known tags.
func ParseBackend(s string) (Backend, error) {
	for _, backend := range Backends() {
		if string(backend) == s {
			return backend, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

// Adapter wraps one real-time transport.
type Adapter interface {
	// Connect starts the session and returns without waiting for it
	// to be established. The adapter later calls exactly one of
	// callbacks.Ready or callbacks.Failed. An error returned directly
	// (for example a malformed config) is treated like Failed.
	Connect(ctx context.Context, config json.RawMessage, callbacks Callbacks) error

	// Disconnect ends the session without blocking. Callbacks may
	// still fire afterwards; the coordinator ignores them.
	Disconnect()

	// Publish sends ev to the other participants. Events published on
	// one adapter are delivered in order.
	Publish(ev event.Event) error
}

// Callbacks connect an adapter to its coordinator. All three are safe
// to call from any goroutine.
type Callbacks struct {
	Ready   func()
	Failed  func(err error)
	Deliver func(ev event.Event)
}

// Factory constructs an unconnected adapter.
type Factory func() Adapter
