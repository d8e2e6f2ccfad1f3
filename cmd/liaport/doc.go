// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// liaport connects a course rendering engine to local services:
// course state in SQLite, speech, script execution, sharing, resource
// loading, translations and real-time synchronization over beaker,
// gun, jitsi, matrix or pubnub.
//
// Usage:
//
//	liaport [--config FILE] [--debug] serve
//	liaport [--config FILE] backends
//	liaport version
//
// serve listens on paths.socket, or talks to a single engine over
// stdin and stdout when no socket is configured. backends prints the
// sync backends this host offers.
package main
