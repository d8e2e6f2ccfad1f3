// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gun

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/liaport/lib/wsconn"
)

// Message is one GUN wire message. Relays may batch several into a
// JSON array; see decodeMessages.
type Message struct {
	// ID is the message id ("#"). Ack is the id this message answers
	// ("@").
	ID  string `json:"#,omitempty"`
	Ack string `json:"@,omitempty"`

	Get *GetRequest `json:"get,omitempty"`

	// Put maps souls to wire nodes.
	Put map[string]json.RawMessage `json:"put,omitempty"`

	OK  json.RawMessage `json:"ok,omitempty"`
	Err string          `json:"err,omitempty"`
}

// GetRequest subscribes to a node, or one field of it.
type GetRequest struct {
	Soul  string `json:"#"`
	Field string `json:".,omitempty"`
}

func newMessageID() string {
	return uuid.NewString()
}

// decodeMessages accepts a single message or an array batch.
func decodeMessages(data []byte) ([]Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var batch []Message
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("gun: decoding batch: %w", err)
		}
		return batch, nil
	}
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("gun: decoding message: %w", err)
	}
	return []Message{message}, nil
}

// errNoRelay is returned when no relay connection accepted a message.
var errNoRelay = errors.New("gun: no relay connection")

// relaySet is the set of live relay connections.
type relaySet struct {
	mu    sync.Mutex
	conns map[*wsconn.Conn]string
}

func newRelaySet() *relaySet {
	return &relaySet{conns: make(map[*wsconn.Conn]string)}
}

func (r *relaySet) add(conn *wsconn.Conn, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn] = url
}

// remove drops conn and returns how many connections remain.
func (r *relaySet) remove(conn *wsconn.Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn)
	return len(r.conns)
}

// send writes message to every relay. It fails only if no relay
// accepted it.
func (r *relaySet) send(message Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("gun: encoding message: %w", err)
	}
	r.mu.Lock()
	conns := make([]*wsconn.Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	var errs []error
	sent := 0
	for _, conn := range conns {
		if err := conn.Send(websocket.TextMessage, data); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return errors.Join(append([]error{errNoRelay}, errs...)...)
	}
	return nil
}

// put writes values to soul on every relay.
func (r *relaySet) put(soul string, state float64, values map[string]json.RawMessage) (Message, error) {
	node, err := EncodeNode(soul, state, values)
	if err != nil {
		return Message{}, err
	}
	message := Message{ID: newMessageID(), Put: map[string]json.RawMessage{soul: node}}
	return message, r.send(message)
}
