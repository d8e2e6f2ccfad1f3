// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// NoID is the id of a step whose id was null or absent.
const NoID = -1

// Step is one (topic, id) element of a track.
type Step struct {
	Topic string
	ID    int
}

// MarshalJSON writes the pair form ["topic", id], with null for NoID.
func (s Step) MarshalJSON() ([]byte, error) {
	if s.ID == NoID {
		return json.Marshal([2]any{s.Topic, nil})
	}
	return json.Marshal([2]any{s.Topic, s.ID})
}

// UnmarshalJSON reads either ["topic", id] or {"topic": ..., "id": ...}.
// A null id becomes NoID.
func (s *Step) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("event: empty track step")
	}

	var topic string
	var id *int
	switch trimmed[0] {
	case '[':
		var pair []json.RawMessage
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return fmt.Errorf("event: track step: %w", err)
		}
		if len(pair) == 0 || len(pair) > 2 {
			return fmt.Errorf("event: track step has %d elements", len(pair))
		}
		if err := json.Unmarshal(pair[0], &topic); err != nil {
			return fmt.Errorf("event: track step topic: %w", err)
		}
		if len(pair) == 2 {
			if err := json.Unmarshal(pair[1], &id); err != nil {
				return fmt.Errorf("event: track step id: %w", err)
			}
		}
	case '{':
		var object struct {
			Topic string `json:"topic"`
			ID    *int   `json:"id"`
		}
		if err := json.Unmarshal(trimmed, &object); err != nil {
			return fmt.Errorf("event: track step: %w", err)
		}
		topic, id = object.Topic, object.ID
	default:
		return fmt.Errorf("event: track step must be an array or object")
	}

	s.Topic = topic
	s.ID = NoID
	if id != nil {
		s.ID = *id
	}
	return nil
}

// Track is the path from the course root to the element an event
// concerns.
type Track []Step

// Head returns the first step, or false for an empty track.
func (t Track) Head() (Step, bool) {
	if len(t) == 0 {
		return Step{}, false
	}
	return t[0], true
}

// Tail returns the track without its first step.
func (t Track) Tail() Track {
	if len(t) == 0 {
		return Track{}
	}
	return t[1:]
}

func (t Track) String() string {
	parts := make([]string, len(t))
	for i, step := range t {
		parts[i] = fmt.Sprintf("%s:%d", step.Topic, step.ID)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// MarshalJSON writes an empty track as [] rather than null.
func (t Track) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Step(t))
}
