// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/liaport/event"
)

// State is the coordinator's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// CoordinatorConfig holds the dependencies of a Coordinator.
type CoordinatorConfig struct {
	// Factories constructs adapters by backend. A backend without a
	// factory is treated as unknown.
	Factories map[Backend]Factory

	// BeakerProbe reports whether the host-local backend can run
	// here. It must be cheap and free of side effects. Nil means
	// never.
	BeakerProbe func() bool

	// Send receives delivered events and status notifications.
	Send event.Send

	Logger *slog.Logger
}

// Coordinator owns the active sync session.
type Coordinator struct {
	factories map[Backend]Factory
	probe     func() bool
	send      event.Send
	logger    *slog.Logger

	// commandMu serializes Connect and Disconnect so the old adapter's
	// Disconnect always precedes the new adapter's Connect.
	commandMu sync.Mutex

	// mu guards the session fields below. Adapter callbacks arrive on
	// adapter goroutines.
	mu         sync.Mutex
	state      State
	backend    Backend
	adapter    Adapter
	generation uint64
}

// NewCoordinator returns a Disconnected coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	send := cfg.Send
	if send == nil {
		send = func(event.Event) {}
	}
	probe := cfg.BeakerProbe
	if probe == nil {
		probe = func() bool { return false }
	}
	return &Coordinator{
		factories: cfg.Factories,
		probe:     probe,
		send:      send,
		logger:    logger,
	}
}

// AvailableBackends lists the backends offered to the engine. With
// allowSync false the list is empty; otherwise beaker is included only
// when the probe succeeds.
func (c *Coordinator) AvailableBackends(allowSync bool) []Backend {
	if !allowSync {
		return []Backend{}
	}
	available := make([]Backend, 0, 5)
	if c.probe() {
		available = append(available, Beaker)
	}
	return append(available, Gun, Jitsi, Matrix, Pubnub)
}

// Status returns the current state and backend.
func (c *Coordinator) Status() (State, Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.backend
}

// Connect starts a session with backend, replacing any current one.
// An unknown backend returns ErrUnknownBackend and leaves the
// current session untouched. Connection failures are reported through
// a status event and the log, not the return value.
func (c *Coordinator) Connect(ctx context.Context, tag string, config json.RawMessage) error {
	backend, err := ParseBackend(tag)
	if err == nil && c.factories[backend] == nil {
		err = fmt.Errorf("%w: %q has no adapter", ErrUnknownBackend, tag)
	}
	if err != nil {
		c.logger.Error("sync connect rejected", "backend", tag, "error", err)
		return err
	}

	c.commandMu.Lock()
	defer c.commandMu.Unlock()

	c.mu.Lock()
	previous, previousBackend := c.adapter, c.backend
	c.generation++
	generation := c.generation
	c.adapter, c.backend, c.state = nil, backend, Connecting
	c.mu.Unlock()

	if previous != nil {
		c.logger.Info("replacing sync session", "previous", previousBackend, "backend", backend)
		previous.Disconnect()
	}

	adapter := c.factories[backend]()
	c.mu.Lock()
	c.adapter = adapter
	c.mu.Unlock()

	c.logger.Info("sync connecting", "backend", backend, "generation", generation)
	callbacks := Callbacks{
		Ready:   func() { c.ready(generation) },
		Failed:  func(err error) { c.failed(generation, err) },
		Deliver: func(ev event.Event) { c.deliver(generation, ev) },
	}
	if err := adapter.Connect(ctx, config, callbacks); err != nil {
		c.failed(generation, err)
	}
	return nil
}

// Disconnect ends the current session, if any.
func (c *Coordinator) Disconnect() {
	c.commandMu.Lock()
	defer c.commandMu.Unlock()

	c.mu.Lock()
	adapter, backend := c.adapter, c.backend
	c.generation++
	c.adapter, c.backend, c.state = nil, "", Disconnected
	c.mu.Unlock()

	if adapter == nil {
		c.logger.Debug("sync disconnect without a session")
		return
	}
	adapter.Disconnect()
	c.logger.Info("sync disconnected", "backend", backend)
	c.notify("disconnect", map[string]any{"backend": backend})
}

// Publish forwards ev to the connected adapter. While Disconnected or
// Connecting the event is dropped with a warning and
// ErrPublishWithoutAdapter is returned.
func (c *Coordinator) Publish(ev event.Event) error {
	c.mu.Lock()
	adapter, state, backend := c.adapter, c.state, c.backend
	c.mu.Unlock()

	if state != Connected {
		c.logger.Warn("sync publish dropped", "state", state, "cmd", ev.Message.Cmd, "error", ErrPublishWithoutAdapter)
		return ErrPublishWithoutAdapter
	}
	if err := adapter.Publish(ev); err != nil {
		return fmt.Errorf("realtime: publishing on %s: %w", backend, err)
	}
	return nil
}

func (c *Coordinator) ready(generation uint64) {
	c.mu.Lock()
	if generation != c.generation || c.state != Connecting {
		c.mu.Unlock()
		c.logger.Debug("ignoring stale ready signal", "generation", generation)
		return
	}
	c.state = Connected
	backend := c.backend
	c.mu.Unlock()

	c.logger.Info("sync connected", "backend", backend)
	c.notify("connect", map[string]any{"backend": backend, "ok": true})
}

func (c *Coordinator) failed(generation uint64, cause error) {
	c.mu.Lock()
	if generation != c.generation || c.adapter == nil {
		c.mu.Unlock()
		c.logger.Debug("ignoring stale failure", "generation", generation, "error", cause)
		return
	}
	adapter, backend := c.adapter, c.backend
	c.generation++
	c.adapter, c.backend, c.state = nil, "", Disconnected
	c.mu.Unlock()

	adapter.Disconnect()
	err := &ConnectError{Backend: backend, Err: cause}
	c.logger.Error("sync connection failed", "backend", backend, "error", err)
	c.notify("connect", map[string]any{"backend": backend, "ok": false, "error": cause.Error()})
}

func (c *Coordinator) deliver(generation uint64, ev event.Event) {
	c.mu.Lock()
	current := generation == c.generation && c.adapter != nil
	c.mu.Unlock()
	if !current {
		return
	}
	ev.Reply = true
	c.send(ev)
}

func (c *Coordinator) notify(cmd string, param map[string]any) {
	status, err := event.New(event.Sync, cmd, param)
	if err != nil {
		c.logger.Error("building sync status event", "error", err)
		return
	}
	c.send(status)
}
