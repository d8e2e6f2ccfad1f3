// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gun

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// metaKey is the reserved field holding a node's soul and states.
const metaKey = "_"

// nodeMeta is the "_" field of a wire node.
type nodeMeta struct {
	Soul   string             `json:"#"`
	States map[string]float64 `json:">"`
}

type node struct {
	values map[string]json.RawMessage
	states map[string]float64
}

// Graph is the local copy of every node this peer has seen. Updates
// are merged field by field with the HAM rule: the higher state wins,
// and equal states are broken by comparing the JSON values.
type Graph struct {
	mu    sync.Mutex
	nodes map[string]*node
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// Merge applies a wire node to soul and returns the fields whose value
// changed. Fields without a state are ignored.
func (g *Graph) Merge(soul string, raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("gun: node %s: %w", soul, err)
	}
	var meta nodeMeta
	if rawMeta, ok := fields[metaKey]; ok {
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			return nil, fmt.Errorf("gun: node %s metadata: %w", soul, err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	current := g.nodes[soul]
	if current == nil {
		current = &node{
			values: make(map[string]json.RawMessage),
			states: make(map[string]float64),
		}
		g.nodes[soul] = current
	}

	var changed []string
	for field, value := range fields {
		if field == metaKey {
			continue
		}
		state, ok := meta.States[field]
		if !ok {
			continue
		}
		known, exists := current.states[field]
		switch {
		case !exists, state > known:
		case state == known && bytes.Compare(value, current.values[field]) > 0:
		default:
			continue
		}
		current.states[field] = state
		current.values[field] = append(json.RawMessage(nil), value...)
		changed = append(changed, field)
	}
	return changed, nil
}

// Fields returns a copy of soul's live values. Null fields are
// omitted.
func (g *Graph) Fields(soul string) map[string]json.RawMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	current := g.nodes[soul]
	if current == nil {
		return nil
	}
	fields := make(map[string]json.RawMessage, len(current.values))
	for field, value := range current.values {
		if !bytes.Equal(value, []byte("null")) {
			fields[field] = value
		}
	}
	return fields
}

// Encode returns soul as a wire node, or false if it is unknown.
func (g *Graph) Encode(soul string) (json.RawMessage, bool) {
	g.mu.Lock()
	current := g.nodes[soul]
	if current == nil {
		g.mu.Unlock()
		return nil, false
	}
	values := maps.Clone(current.values)
	states := maps.Clone(current.states)
	g.mu.Unlock()

	encoded, err := encodeNode(soul, values, states)
	if err != nil {
		return nil, false
	}
	return encoded, true
}

// EncodeNode builds a wire node assigning state to every field.
func EncodeNode(soul string, state float64, values map[string]json.RawMessage) (json.RawMessage, error) {
	states := make(map[string]float64, len(values))
	for field := range values {
		states[field] = state
	}
	return encodeNode(soul, values, states)
}

func encodeNode(soul string, values map[string]json.RawMessage, states map[string]float64) (json.RawMessage, error) {
	wire := make(map[string]any, len(values)+1)
	for field, value := range values {
		wire[field] = value
	}
	wire[metaKey] = nodeMeta{Soul: soul, States: states}
	encoded, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("gun: encoding node %s: %w", soul, err)
	}
	return encoded, nil
}
