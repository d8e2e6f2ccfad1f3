// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/realtime"
)

// SyncConfig configures the Sync service.
type SyncConfig struct {
	// Allow enables synchronization. With Allow false no backend is
	// offered and connect is refused.
	Allow bool

	Factories   map[realtime.Backend]realtime.Factory
	BeakerProbe func() bool

	// Defaults returns the configured backend config for a tag, used
	// when connect carries none. May be nil.
	Defaults func(tag string) (json.RawMessage, error)

	Logger *slog.Logger
}

// Sync binds the engine's sync topic to a realtime.Coordinator.
// connect switches the backend, disconnect ends the session, and every
// other command is published to the other participants.
type Sync struct {
	config SyncConfig
	logger *slog.Logger

	mu          sync.Mutex
	coordinator *realtime.Coordinator
}

// NewSync returns an uninitialized Sync service.
func NewSync(cfg SyncConfig) *Sync {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sync{config: cfg, logger: cfg.Logger}
}

func (s *Sync) Topic() event.Topic { return event.Sync }

// Init builds the coordinator around send. Sync without any adapter
// is still initialized: the engine learns from Supported that no
// backend is available.
func (s *Sync) Init(send event.Send, _ connector.Connector) error {
	coordinator := realtime.NewCoordinator(realtime.CoordinatorConfig{
		Factories:   s.config.Factories,
		BeakerProbe: s.config.BeakerProbe,
		Send:        send,
		Logger:      s.logger,
	})
	s.mu.Lock()
	s.coordinator = coordinator
	s.mu.Unlock()
	return nil
}

func (s *Sync) current() *realtime.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coordinator
}

// Supported lists the backends offered to the engine.
func (s *Sync) Supported() []realtime.Backend {
	coordinator := s.current()
	if coordinator == nil {
		coordinator = realtime.NewCoordinator(realtime.CoordinatorConfig{
			Factories:   s.config.Factories,
			BeakerProbe: s.config.BeakerProbe,
			Logger:      s.logger,
		})
	}
	return coordinator.AvailableBackends(s.config.Allow)
}

// Status reports the coordinator state.
func (s *Sync) Status() (realtime.State, realtime.Backend) {
	coordinator := s.current()
	if coordinator == nil {
		return realtime.Disconnected, ""
	}
	return coordinator.Status()
}

type connectParam struct {
	Backend string          `json:"backend"`
	Config  json.RawMessage `json:"config"`
}

func (s *Sync) Handle(ctx context.Context, ev event.Event) error {
	coordinator := s.current()
	if coordinator == nil {
		return ErrNotInitialized
	}
	switch ev.Message.Cmd {
	case "connect":
		var param connectParam
		if err := ev.Message.Decode(&param); err != nil {
			return err
		}
		if !s.config.Allow {
			return errors.New("sync: synchronization is disabled")
		}
		config := param.Config
		if trimmed := bytes.TrimSpace(config); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			defaults, err := s.defaults(param.Backend)
			if err != nil {
				return err
			}
			config = defaults
		}
		return coordinator.Connect(ctx, param.Backend, config)

	case "disconnect":
		coordinator.Disconnect()
		return nil
	}

	// Publish logs the drop itself when no session is connected.
	err := coordinator.Publish(ev)
	if errors.Is(err, realtime.ErrPublishWithoutAdapter) {
		return nil
	}
	return err
}

func (s *Sync) defaults(tag string) (json.RawMessage, error) {
	if s.config.Defaults == nil {
		return nil, nil
	}
	return s.config.Defaults(tag)
}

// Close ends any session. The engine shell calls it when the engine
// goes away.
func (s *Sync) Close() {
	if coordinator := s.current(); coordinator != nil {
		coordinator.Disconnect()
	}
}
