// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/testutil"
)

func TestOutboxPreservesOrder(t *testing.T) {
	written := make(chan string, 10)
	outbox := NewOutbox(10, func(_ context.Context, ev event.Event) error {
		written <- ev.Message.Cmd
		return nil
	}, nil)

	for i := range 5 {
		if err := outbox.Push(event.Event{Message: event.Message{Cmd: fmt.Sprint(i)}}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go outbox.Run(ctx)

	for i := range 5 {
		got := testutil.RequireReceive(t, written, 5*time.Second, "event %d", i)
		if got != fmt.Sprint(i) {
			t.Fatalf("position %d got %s", i, got)
		}
	}
}

func TestOutboxFullAndClosed(t *testing.T) {
	outbox := NewOutbox(1, func(context.Context, event.Event) error { return nil }, nil)
	if err := outbox.Push(event.Event{}); err != nil {
		t.Fatalf("first Push: %v", err)
	}
	if err := outbox.Push(event.Event{}); !errors.Is(err, ErrOutboxFull) {
		t.Errorf("second Push = %v, want ErrOutboxFull", err)
	}
	outbox.Close()
	outbox.Close()
	if err := outbox.Push(event.Event{}); !errors.Is(err, ErrOutboxClosed) {
		t.Errorf("Push after Close = %v", err)
	}
}
