// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/liaport/event"
)

// OutboxSize is the default queue depth.
const OutboxSize = 256

// Outbox serializes an adapter's outgoing events onto one writer
// goroutine, preserving Publish order.
type Outbox struct {
	queue  chan event.Event
	write  func(ctx context.Context, ev event.Event) error
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewOutbox returns an Outbox. Call Run to start draining it.
func NewOutbox(size int, write func(ctx context.Context, ev event.Event) error, logger *slog.Logger) *Outbox {
	if size <= 0 {
		size = OutboxSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Outbox{
		queue:  make(chan event.Event, size),
		write:  write,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Push queues ev without blocking.
func (o *Outbox) Push(ev event.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOutboxClosed
	}
	select {
	case o.queue <- ev:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Run writes queued events until ctx is done or Close is called.
// Write errors are logged and the next event is attempted.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.done:
			return
		case ev := <-o.queue:
			if err := o.write(ctx, ev); err != nil && ctx.Err() == nil {
				o.logger.Warn("sync publish failed", "cmd", ev.Message.Cmd, "error", err)
			}
		}
	}
}

// Close rejects further pushes and stops Run. Queued events are
// discarded.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
}
