// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds liaport's CBOR configuration.
//
// Two formats meet in liaport. The rendering engine, the Matrix
// client-server API and PubNub all speak JSON, so [event.Event] and
// everything the engine sees is JSON. Sync envelopes exchanged between
// peers and the frames written to host-local peer sockets are CBOR:
// they are compact, self-delimiting on a stream, and encode the same
// logical envelope to the same bytes, which keeps message ids stable
// across peers.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2).
//
//	data, err := codec.Marshal(envelope)
//	err = codec.Unmarshal(data, &envelope)
//
// Stream use (peer sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that are only ever CBOR carry `cbor` struct tags. Types that
// cross into JSON carry `json` tags only; fxamacker/cbor falls back to
// them. Never put both tags on one field.
package codec
