// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event is one unit of communication with the engine.
//
// Service is not validated on decode: an event for an unknown topic
// must still reach the router so it can be reported.
type Event struct {
	Reply   bool    `json:"reply"`
	Track   Track   `json:"track"`
	Service Topic   `json:"service"`
	Message Message `json:"message"`
}

// Message is the command carried by an event. Param is kept as raw
// JSON; only the service that owns the topic interprets it.
type Message struct {
	Cmd   string          `json:"cmd"`
	Param json.RawMessage `json:"param,omitempty"`
}

// UnmarshalJSON accepts the {cmd, param} object and, for events whose
// message is some other JSON value, keeps that value as Param with an
// empty Cmd.
func (m *Message) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		*m = Message{}
		if !bytes.Equal(trimmed, []byte("null")) {
			m.Param = append(json.RawMessage(nil), trimmed...)
		}
		return nil
	}
	var wire struct {
		Cmd   string          `json:"cmd"`
		Param json.RawMessage `json:"param"`
	}
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return err
	}
	m.Cmd = wire.Cmd
	m.Param = wire.Param
	if bytes.Equal(bytes.TrimSpace(m.Param), []byte("null")) {
		m.Param = nil
	}
	return nil
}

// Decode unmarshals Param into v. An absent Param leaves v unchanged.
func (m Message) Decode(v any) error {
	if len(m.Param) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Param, v); err != nil {
		return fmt.Errorf("event: decoding %q param: %w", m.Cmd, err)
	}
	return nil
}

// New builds an outbound event with Reply set. param is marshalled
// to JSON; nil leaves Param empty.
func New(service Topic, cmd string, param any) (Event, error) {
	raw, err := marshalParam(param)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Reply:   true,
		Track:   Track{},
		Service: service,
		Message: Message{Cmd: cmd, Param: raw},
	}, nil
}

// Answer returns a copy of e with Reply set and Param replaced by
// param, preserving track, service and command so the engine can
// match the answer to its request.
func (e Event) Answer(param any) (Event, error) {
	raw, err := marshalParam(param)
	if err != nil {
		return Event{}, err
	}
	answer := e
	answer.Reply = true
	answer.Track = append(Track(nil), e.Track...)
	answer.Message = Message{Cmd: e.Message.Cmd, Param: raw}
	return answer, nil
}

// String formats the event for log lines.
func (e Event) String() string {
	return fmt.Sprintf("%s/%s %s", e.Service, e.Message.Cmd, e.Track)
}

func marshalParam(param any) (json.RawMessage, error) {
	switch value := param.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return value, nil
	}
	raw, err := json.Marshal(param)
	if err != nil {
		return nil, fmt.Errorf("event: encoding param: %w", err)
	}
	return raw, nil
}

// Decode parses one event from its JSON form.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("event: %w", err)
	}
	if ev.Track == nil {
		ev.Track = Track{}
	}
	return ev, nil
}
