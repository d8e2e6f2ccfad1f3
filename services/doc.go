// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package services holds the host capabilities the course engine
// talks to, one [router.Service] per topic.
//
// Every service follows the same shape: construction takes its
// dependencies, Init captures the Send and the connector, and Handle
// dispatches on the event's command. Handle never blocks on external
// processes or the network; such work runs on a goroutine bound to the
// handler's context and answers the request through Send with
// [event.Event.Answer], so the engine can match the answer by track.
//
// A command a service does not know returns [ErrUnknownCommand]; the
// router logs it.
package services
