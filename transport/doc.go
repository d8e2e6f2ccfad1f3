// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides peer-to-peer message delivery between sync
// participants over WebRTC data channels.
//
// [Mesh] keeps one pion PeerConnection per remote peer, each carrying a
// single ordered, reliable data channel, and broadcasts opaque messages
// to every open channel. Connection establishment uses vanilla ICE: all
// candidates are gathered before the SDP is published, so signaling
// takes exactly one round-trip.
//
// Signaling is abstracted behind the [Signaler] interface, which
// announces presence and publishes and polls SDP offers and answers.
// Sync adapters implement it over their own backend; [MemorySignaler]
// provides an in-process implementation for tests. Offers and answers
// are keyed by [SignalKey] (offerer|target), and [SignalCursor] makes
// each signal visible to its consumer once.
//
// When both peers attempt to connect simultaneously, the peer whose id
// is lexicographically smaller becomes the offerer, and the other peer
// drops its redundant PeerConnection.
//
// [ICEConfig] holds STUN/TURN server configuration, built from the JSON
// [ICEServer] entries of a backend config by [NewICEConfig].
package transport
