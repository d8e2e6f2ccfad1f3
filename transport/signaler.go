// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"strings"
	"sync"
)

// Signaler abstracts the mechanism peers use to find each other and
// exchange WebRTC session descriptions. The sync adapters implement it
// over their own backend (graph nodes, room state); tests use
// [MemorySignaler].
//
// The signaling model is vanilla ICE: all ICE candidates are gathered
// before the SDP is published, so connection establishment requires
// exactly one signaling round-trip (offer, answer).
type Signaler interface {
	// Announce records peer as present so others discover it through
	// Peers. Calling it again refreshes the presence.
	Announce(ctx context.Context, peer string) error

	// Peers lists every announced peer, including the caller.
	Peers(ctx context.Context) ([]string, error)

	// PublishOffer publishes a complete SDP offer from peer to target.
	PublishOffer(ctx context.Context, peer, target, sdp string) error

	// PublishAnswer publishes a complete SDP answer to an offer that
	// offerer sent to peer.
	PublishAnswer(ctx context.Context, offerer, peer, sdp string) error

	// PollOffers returns offers directed at peer that are newer than
	// the last ones returned to it.
	PollOffers(ctx context.Context, peer string) ([]SignalMessage, error)

	// PollAnswers returns answers to offers peer originated that are
	// newer than the last ones returned to it.
	PollAnswers(ctx context.Context, peer string) ([]SignalMessage, error)
}

// SignalMessage represents a signaling message (offer or answer).
type SignalMessage struct {
	// Peer is the other party. For received offers this is the
	// offerer; for received answers it is the answerer.
	Peer string `json:"peer"`

	// SDP is the complete session description with all ICE candidates
	// embedded.
	SDP string `json:"sdp"`

	// Timestamp is the creation time in Unix milliseconds.
	Timestamp int64 `json:"ts"`
}

// signalingSeparator separates the offerer and target peer ids in a
// signal key.
const signalingSeparator = "|"

// SignalKey returns the key under which an offer from offerer to
// target, and its answer, are stored.
func SignalKey(offerer, target string) string {
	return offerer + signalingSeparator + target
}

// SplitSignalKey is the inverse of SignalKey.
func SplitSignalKey(key string) (offerer, target string, ok bool) {
	offerer, target, ok = strings.Cut(key, signalingSeparator)
	if !ok || offerer == "" || target == "" {
		return "", "", false
	}
	return offerer, target, true
}

// SignalCursor remembers, per consumer and key, the newest signal
// timestamp already handed out. Signaler implementations share it to
// make PollOffers and PollAnswers return each signal once.
type SignalCursor struct {
	mu       sync.Mutex
	lastSeen map[string]int64
}

// NewSignalCursor returns an empty cursor.
func NewSignalCursor() *SignalCursor {
	return &SignalCursor{lastSeen: make(map[string]int64)}
}

// Advance reports whether timestamp is newer than the last one seen
// for (consumer, key), and records it if so.
func (c *SignalCursor) Advance(consumer, key string, timestamp int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	seenKey := consumer + ":" + key
	if last, ok := c.lastSeen[seenKey]; ok && timestamp <= last {
		return false
	}
	c.lastSeen[seenKey] = timestamp
	return true
}
