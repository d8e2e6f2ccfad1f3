// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gun

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/bureau-foundation/liaport/lib/clock"
	"github.com/bureau-foundation/liaport/transport"
)

// graphSignaler carries WebRTC signaling through three graph nodes
// below the room soul: peers (peer id to last announce time), offers
// and answers (signal key to an encoded transport.SignalMessage).
type graphSignaler struct {
	relays *relaySet
	graph  *Graph
	clock  clock.Clock
	cursor *transport.SignalCursor

	peersSoul   string
	offersSoul  string
	answersSoul string

	mu   sync.Mutex
	last int64
}

var _ transport.Signaler = (*graphSignaler)(nil)

func newGraphSignaler(room string, relays *relaySet, graph *Graph, clk clock.Clock) *graphSignaler {
	return &graphSignaler{
		relays:      relays,
		graph:       graph,
		clock:       clk,
		cursor:      transport.NewSignalCursor(),
		peersSoul:   room + "/peers",
		offersSoul:  room + "/offers",
		answersSoul: room + "/answers",
	}
}

// souls lists the nodes the signaler needs subscriptions for.
func (s *graphSignaler) souls() []string {
	return []string{s.peersSoul, s.offersSoul, s.answersSoul}
}

// stamp is a strictly increasing millisecond clock.
func (s *graphSignaler) stamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UnixMilli()
	if now <= s.last {
		now = s.last + 1
	}
	s.last = now
	return now
}

// write merges the update locally, so our own signals are visible
// before any relay echoes them, and sends it to the relays.
func (s *graphSignaler) write(soul, field string, value any, state int64) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	values := map[string]json.RawMessage{field: encoded}
	node, err := EncodeNode(soul, float64(state), values)
	if err != nil {
		return err
	}
	if _, err := s.graph.Merge(soul, node); err != nil {
		return err
	}
	_, err = s.relays.put(soul, float64(state), values)
	return err
}

func (s *graphSignaler) Announce(_ context.Context, peer string) error {
	now := s.stamp()
	return s.write(s.peersSoul, peer, now, now)
}

func (s *graphSignaler) Peers(_ context.Context) ([]string, error) {
	fields := s.graph.Fields(s.peersSoul)
	peers := make([]string, 0, len(fields))
	for peer := range fields {
		peers = append(peers, peer)
	}
	slices.Sort(peers)
	return peers, nil
}

func (s *graphSignaler) PublishOffer(_ context.Context, peer, target, sdp string) error {
	return s.publish(s.offersSoul, transport.SignalKey(peer, target), peer, sdp)
}

func (s *graphSignaler) PublishAnswer(_ context.Context, offerer, peer, sdp string) error {
	return s.publish(s.answersSoul, transport.SignalKey(offerer, peer), peer, sdp)
}

// publish stores the signal as a JSON string value; graph values must
// be primitives.
func (s *graphSignaler) publish(soul, key, from, sdp string) error {
	now := s.stamp()
	encoded, err := json.Marshal(transport.SignalMessage{Peer: from, SDP: sdp, Timestamp: now})
	if err != nil {
		return err
	}
	return s.write(soul, key, string(encoded), now)
}

func (s *graphSignaler) PollOffers(_ context.Context, peer string) ([]transport.SignalMessage, error) {
	return s.poll(peer, s.offersSoul, "offers", func(_, target string) bool { return target == peer }), nil
}

func (s *graphSignaler) PollAnswers(_ context.Context, peer string) ([]transport.SignalMessage, error) {
	return s.poll(peer, s.answersSoul, "answers", func(offerer, _ string) bool { return offerer == peer }), nil
}

func (s *graphSignaler) poll(peer, soul, label string, match func(offerer, target string) bool) []transport.SignalMessage {
	var messages []transport.SignalMessage
	for key, raw := range s.graph.Fields(soul) {
		offerer, target, ok := transport.SplitSignalKey(key)
		if !ok || !match(offerer, target) {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			continue
		}
		var message transport.SignalMessage
		if err := json.Unmarshal([]byte(text), &message); err != nil || message.SDP == "" {
			continue
		}
		if !s.cursor.Advance(label+":"+peer, key, message.Timestamp) {
			continue
		}
		messages = append(messages, message)
	}
	return messages
}
