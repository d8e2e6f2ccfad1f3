// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source injected into liaport components.
//
// Adapters time out connection attempts, pace reconnects and ping
// their backends; services stamp records. All of them take a [Clock]
// rather than calling the time package, so tests can drive timeouts
// with [FakeClock.Advance] instead of sleeping.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go adapter.Connect(ctx, config, callbacks)
//	c.WaitForTimers(1)          // the adapter armed its ready timeout
//	c.Advance(30 * time.Second) // and now it fires
package clock
