// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine connects a course rendering engine to the services.
//
// The engine speaks newline-delimited JSON. Each line it writes is
// either an [event.Event] for the router or a UI call
// ({"call": "footnote", "args": ["fn-1"]}) for the entry points a
// rendered course invokes directly (footnotes, image zoom, image
// clicks, modal state, reset, swipe gestures). Each line liaport writes
// is a [Frame] naming the engine port it is for: "flags" once on
// connect, "event2elm" for service events, "footnote" and "media" for
// the UI entry points.
//
// A [Session] serves one engine connection with its own set of
// services; [Server] accepts engine connections on a Unix socket and
// [ServeStdio] runs a single session over the process's standard
// streams.
package engine
