// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/clock"
)

// DefaultReadyTimeout bounds how long websocket adapters wait for their
// backend to confirm a connection.
const DefaultReadyTimeout = 30 * time.Second

// SessionConfig configures a Session.
type SessionConfig struct {
	Backend   Backend
	Origin    string
	Options   Options
	Callbacks Callbacks

	// Write sends one event to the backend. It runs on the outbox
	// goroutine, so calls never overlap.
	Write func(ctx context.Context, ev event.Event) error

	// ReadyTimeout, when positive, fails the session with
	// ErrReadyTimeout unless Ready is called within it.
	ReadyTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Session is the per-connection state every adapter keeps: a context
// cancelled by Close, the envelope codec, the outbox and the
// coordinator callbacks. Ready fires at most once; Fail fires at most
// once and closes the session.
type Session struct {
	ctx       context.Context
	cancel    context.CancelFunc
	codec     *Codec
	outbox    *Outbox
	callbacks Callbacks
	logger    *slog.Logger

	ready     atomic.Bool
	deadline  *clock.Timer
	readyOnce sync.Once
	failOnce  sync.Once
	closeOnce sync.Once
}

// NewSession starts the outbox and returns the session. The session
// context derives from ctx.
func NewSession(ctx context.Context, cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("backend", string(cfg.Backend))
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		ctx:       sessionCtx,
		cancel:    cancel,
		codec:     NewCodec(cfg.Origin, cfg.Options, cfg.Clock),
		callbacks: cfg.Callbacks,
		logger:    logger,
	}
	session.outbox = NewOutbox(OutboxSize, cfg.Write, logger)
	go session.outbox.Run(sessionCtx)
	if cfg.ReadyTimeout > 0 {
		timeout := cfg.ReadyTimeout
		session.deadline = cfg.Clock.AfterFunc(timeout, func() {
			if !session.ready.Load() {
				session.Fail(fmt.Errorf("%w: %s not ready after %s", ErrReadyTimeout, cfg.Backend, timeout))
			}
		})
	}
	return session
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Codec returns the session's envelope codec.
func (s *Session) Codec() *Codec { return s.codec }

// Logger returns the session logger, tagged with the backend.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Ready reports the session established. Later calls are no-ops.
func (s *Session) Ready() {
	if s.ctx.Err() != nil {
		return
	}
	s.readyOnce.Do(func() {
		s.ready.Store(true)
		if s.deadline != nil {
			s.deadline.Stop()
		}
		s.logger.Info("sync session ready")
		if s.callbacks.Ready != nil {
			s.callbacks.Ready()
		}
	})
}

// Fail reports err and closes the session. Only the first call has an
// effect, and none after Close.
func (s *Session) Fail(err error) {
	if s.ctx.Err() != nil {
		return
	}
	s.failOnce.Do(func() {
		if s.callbacks.Failed != nil {
			s.callbacks.Failed(err)
		}
		s.Close()
	})
}

// Deliver hands an inbound event to the coordinator.
func (s *Session) Deliver(ev event.Event) {
	if s.ctx.Err() != nil || s.callbacks.Deliver == nil {
		return
	}
	s.callbacks.Deliver(ev)
}

// Receive decodes envelope bytes and delivers the event. Echoes and
// duplicates are dropped silently; malformed envelopes are logged.
func (s *Session) Receive(data []byte) {
	ev, ok, err := s.codec.Receive(data)
	s.deliverDecoded(ev, ok, err)
}

// ReceiveText is Receive for base64 payloads.
func (s *Session) ReceiveText(text string) {
	ev, ok, err := s.codec.ReceiveText(text)
	s.deliverDecoded(ev, ok, err)
}

// ReceiveEnvelope is Receive for an already decoded envelope.
func (s *Session) ReceiveEnvelope(envelope Envelope) {
	ev, err := s.codec.Open(envelope)
	if err == errDropped {
		return
	}
	s.deliverDecoded(ev, err == nil, err)
}

func (s *Session) deliverDecoded(ev event.Event, ok bool, err error) {
	if err != nil {
		s.logger.Warn("discarding sync message", "error", err)
		return
	}
	if ok {
		s.Deliver(ev)
	}
}

// Publish queues ev on the outbox.
func (s *Session) Publish(ev event.Event) error {
	return s.outbox.Push(ev)
}

// Close cancels the session context and stops the outbox. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.deadline != nil {
			s.deadline.Stop()
		}
		s.cancel()
		s.outbox.Close()
	})
}

// Slot holds an adapter's current session. Adapters embed it to get
// Disconnect and Publish.
type Slot struct {
	mu      sync.Mutex
	session *Session
}

// Set installs session, closing any previous one.
func (s *Slot) Set(session *Session) {
	s.mu.Lock()
	previous := s.session
	s.session = session
	s.mu.Unlock()
	if previous != nil {
		previous.Close()
	}
}

// Current returns the active session or nil.
func (s *Slot) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Disconnect closes the active session without waiting for its
// goroutines.
func (s *Slot) Disconnect() {
	s.Set(nil)
}

// Publish queues ev on the active session.
func (s *Slot) Publish(ev event.Event) error {
	session := s.Current()
	if session == nil {
		return ErrOutboxClosed
	}
	return session.Publish(ev)
}
