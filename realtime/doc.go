// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package realtime synchronizes course events between participants
// through one of several interchangeable backends.
//
// The [Coordinator] owns at most one [Adapter] at a time and moves
// between three states:
//
//	Disconnected --Connect--> Connecting --Ready--> Connected
//	     ^                        |                     |
//	     +------ Failed ----------+                     |
//	     +------ Disconnect ----------------------------+
//
// Connecting to a new backend while a session exists tears the old
// adapter down first. Teardown is best effort: Adapter.Disconnect
// returns immediately and the coordinator does not wait for the
// backend to confirm. Every connection attempt gets a generation
// number; Ready, Failed and Deliver callbacks from a superseded
// attempt are ignored.
//
// Adapters live in subpackages (beaker, gun, jitsi, matrix, pubnub).
// They all carry the same [Envelope]: a CBOR record holding the
// event JSON, optionally compressed and sealed with a room secret,
// and identified by a BLAKE3 message id so echoes and duplicates can
// be dropped by [Codec.Receive].
package realtime
