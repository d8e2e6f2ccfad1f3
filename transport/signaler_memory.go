// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler for tests. Two Mesh
// instances sharing one MemorySignaler can establish PeerConnections
// without any network signaling.
type MemorySignaler struct {
	mu      sync.Mutex
	peers   map[string]struct{}
	offers  map[string]SignalMessage // key: SignalKey(offerer, target)
	answers map[string]SignalMessage // key: SignalKey(offerer, target)
	cursor  *SignalCursor
	counter int64
}

// NewMemorySignaler creates a new in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		peers:   make(map[string]struct{}),
		offers:  make(map[string]SignalMessage),
		answers: make(map[string]SignalMessage),
		cursor:  NewSignalCursor(),
	}
}

func (s *MemorySignaler) Announce(_ context.Context, peer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[peer] = struct{}{}
	return nil
}

func (s *MemorySignaler) Peers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]string, 0, len(s.peers))
	for peer := range s.peers {
		peers = append(peers, peer)
	}
	slices.Sort(peers)
	return peers, nil
}

func (s *MemorySignaler) PublishOffer(_ context.Context, peer, target, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[SignalKey(peer, target)] = SignalMessage{
		Peer:      peer,
		SDP:       sdp,
		Timestamp: s.stamp(),
	}
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, offerer, peer, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[SignalKey(offerer, peer)] = SignalMessage{
		Peer:      peer,
		SDP:       sdp,
		Timestamp: s.stamp(),
	}
	return nil
}

func (s *MemorySignaler) PollOffers(_ context.Context, peer string) ([]SignalMessage, error) {
	return s.pollSignals(peer, s.offers, "offers", func(offerer, target string) bool {
		return target == peer
	})
}

func (s *MemorySignaler) PollAnswers(_ context.Context, peer string) ([]SignalMessage, error) {
	return s.pollSignals(peer, s.answers, "answers", func(offerer, target string) bool {
		return offerer == peer
	})
}

// pollSignals returns the messages in store whose keys match and that
// the cursor has not handed to peer yet.
func (s *MemorySignaler) pollSignals(peer string, store map[string]SignalMessage, label string, match func(offerer, target string) bool) ([]SignalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []SignalMessage
	for key, message := range store {
		offerer, target, ok := SplitSignalKey(key)
		if !ok || !match(offerer, target) {
			continue
		}
		if !s.cursor.Advance(label+":"+peer, key, message.Timestamp) {
			continue
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// stamp returns a strictly increasing millisecond timestamp so two
// signals published within the same millisecond still order.
func (s *MemorySignaler) stamp() int64 {
	now := time.Now().UnixMilli()
	if now <= s.counter {
		now = s.counter + 1
	}
	s.counter = now
	return now
}
