// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/testutil"
)

// outbox records what a service sends toward the engine.
type outbox struct {
	events chan event.Event
}

func newOutbox() *outbox {
	return &outbox{events: make(chan event.Event, 32)}
}

func (o *outbox) send(ev event.Event) { o.events <- ev }

func (o *outbox) next(t *testing.T, what string) event.Event {
	t.Helper()
	return testutil.RequireReceive(t, o.events, 5*time.Second, what)
}

func (o *outbox) none(t *testing.T, what string) {
	t.Helper()
	testutil.RequireNoReceive(t, o.events, 100*time.Millisecond, what)
}

func request(topic event.Topic, cmd, param string, track ...event.Step) event.Event {
	ev := event.Event{Track: event.Track(track), Service: topic, Message: event.Message{Cmd: cmd}}
	if ev.Track == nil {
		ev.Track = event.Track{}
	}
	if param != "" {
		ev.Message.Param = json.RawMessage(param)
	}
	return ev
}

func decodeParam[T any](t *testing.T, ev event.Event) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(ev.Message.Param, &value); err != nil {
		t.Fatalf("decoding %s param %s: %v", ev, ev.Message.Param, err)
	}
	return value
}
