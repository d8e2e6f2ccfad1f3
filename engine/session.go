// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/realtime"
	"github.com/bureau-foundation/liaport/router"
	"github.com/bureau-foundation/liaport/services"
)

// maxLineSize bounds one inbound line.
const maxLineSize = 4 << 20

// Config holds what every engine session needs.
type Config struct {
	// Services builds a fresh set of services for one session, in
	// initialization order.
	Services func() []router.Service

	// Connector is shared by all sessions. A connector.Scoped is
	// narrowed to one view per session, so each session tracks its own
	// open course.
	Connector connector.Connector

	CourseURL string
	Screen    Screen

	// Script is inline course source. Empty sends null.
	Script string

	Logger *slog.Logger
}

// Session is one engine connection.
type Session struct {
	config Config
	logger *slog.Logger

	writeMu sync.Mutex
	encoder *json.Encoder

	send     event.Send
	router   *router.Router
	registry *router.Registry
	modal    atomic.Bool
}

// NewSession returns a session writing frames to w. Call Run to
// start it.
func NewSession(config Config, w io.Writer) *Session {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if scoped, ok := config.Connector.(connector.Scoped); ok {
		config.Connector = scoped.Scope()
	}
	s := &Session{
		config:  config,
		logger:  logger,
		encoder: json.NewEncoder(w),
	}
	s.send = event.Outbound(func(ev event.Event) error {
		return s.writeFrame(PortEvent, ev)
	}, logger)
	return s
}

func (s *Session) writeFrame(port string, value any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.encoder.Encode(Frame{Port: port, Value: value}); err != nil {
		return fmt.Errorf("engine: writing %s frame: %w", port, err)
	}
	return nil
}

// Run initializes the services, sends the flags and processes inbound
// lines from r until r ends or ctx is cancelled. Lines are handled one
// at a time in arrival order.
func (s *Session) Run(ctx context.Context, r io.Reader) error {
	var serviceList []router.Service
	if s.config.Services != nil {
		serviceList = s.config.Services()
	}
	s.registry = router.InitAll(ctx, serviceList, s.send, s.config.Connector, s.logger)
	s.router = router.New(router.Config{
		Registry:  s.registry,
		Connector: s.config.Connector,
		Logger:    s.logger,
	})
	defer s.close(serviceList)

	if err := s.writeFrame(PortFlags, s.flags(ctx)); err != nil {
		return err
	}
	s.logger.Info("engine session started", "services", len(s.registry.Topics()))

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("engine: reading: %w", err)
			}
			s.logger.Info("engine disconnected")
			return nil
		case line := <-lines:
			s.dispatch(ctx, line)
		}
	}
}

func (s *Session) close(serviceList []router.Service) {
	for _, service := range serviceList {
		if closer, ok := service.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}

func (s *Session) flags(ctx context.Context) Flags {
	flags := Flags{
		Settings:    json.RawMessage(`{}`),
		SyncSupport: []realtime.Backend{},
		CourseURL:   s.config.CourseURL,
		Screen:      s.config.Screen,
	}
	if s.config.Script != "" {
		script := s.config.Script
		flags.Script = &script
	}
	if conn := s.config.Connector; conn != nil {
		flags.HasIndex = conn.HasIndex()
		settings, err := conn.Settings(ctx)
		if err != nil {
			s.logger.Warn("reading settings for engine flags", "error", err)
		} else {
			flags.Settings = settings
		}
	}
	if service, ok := s.registry.Lookup(event.Sync); ok {
		if syncService, ok := service.(interface{ Supported() []realtime.Backend }); ok {
			flags.SyncSupport = syncService.Supported()
		}
	}
	if service, ok := s.registry.Lookup(event.Share); ok {
		if share, ok := service.(interface{ Supported() bool }); ok {
			flags.HasShareAPI = share.Supported()
		}
	}
	return flags
}

func (s *Session) dispatch(ctx context.Context, line []byte) {
	if len(line) == 0 {
		return
	}
	var probe call
	if err := json.Unmarshal(line, &probe); err != nil {
		s.logger.Warn("ignoring malformed engine line", "error", err)
		return
	}
	if probe.Call != "" {
		if err := s.invoke(ctx, probe); err != nil {
			s.logger.Warn("engine call failed", "call", probe.Call, "error", err)
		}
		return
	}
	ev, err := event.Decode(line)
	if err != nil {
		s.logger.Warn("ignoring malformed engine event", "error", err)
		return
	}
	s.router.Route(ctx, ev)
}

func (s *Session) invoke(ctx context.Context, c call) error {
	var (
		text string
		flag bool
	)
	arg := func(i int, v any) error {
		if i >= len(c.Args) {
			return nil
		}
		if err := json.Unmarshal(c.Args[i], v); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		return nil
	}

	switch c.Call {
	case "footnote":
		if err := arg(0, &text); err != nil {
			return err
		}
		return s.Footnote(text)

	case "img":
		var width, height *int
		if err := errors.Join(arg(0, &text), arg(1, &width), arg(2, &height)); err != nil {
			return err
		}
		return s.Media(text, width, height)

	case "img_click":
		if err := arg(0, &text); err != nil {
			return err
		}
		_, err := s.ImageClick(text)
		return err

	case "modal":
		if err := arg(0, &flag); err != nil {
			return err
		}
		s.SetModal(flag)
		return nil

	case "reset":
		return s.Reset(ctx)

	case "swipe":
		if err := arg(0, &text); err != nil {
			return err
		}
		_, err := s.Swipe(services.Direction(text))
		return err
	}
	return fmt.Errorf("engine: unknown call %q", c.Call)
}

// Footnote asks the engine to show the footnote key.
func (s *Session) Footnote(key string) error {
	return s.writeFrame(PortFootnote, key)
}

// Media reports the natural size of an image to the engine. Unknown
// dimensions are nil.
func (s *Session) Media(src string, width, height *int) error {
	return s.writeFrame(PortMedia, []any{src, width, height})
}

// ImageClick asks the engine to zoom the image at url. It does nothing
// while a modal is open and reports whether a frame was sent.
func (s *Session) ImageClick(url string) (bool, error) {
	if s.modal.Load() {
		return false, nil
	}
	return true, s.writeFrame(PortMedia, []any{url, nil, nil})
}

// SetModal records whether the rendered course shows a modal.
func (s *Session) SetModal(open bool) {
	s.modal.Store(open)
}

// Reset clears the stored state of the open course and tells the engine
// to reset its view.
func (s *Session) Reset(ctx context.Context) error {
	if conn := s.config.Connector; conn != nil {
		if err := conn.Reset(ctx, "", connector.LatestVersion); err != nil {
			if !errors.Is(err, connector.ErrNotOpen) {
				return fmt.Errorf("engine: reset: %w", err)
			}
			s.logger.Debug("reset without an open course")
		}
	}
	s.send(event.Event{
		Reply: true,
		Track: event.Track{{Topic: "reset", ID: event.NoID}},
	})
	return nil
}

// Swipe forwards a gesture to the swipe service. It reports false when
// the service is missing or has swipes disabled.
func (s *Session) Swipe(direction services.Direction) (bool, error) {
	if s.registry == nil {
		return false, nil
	}
	service, ok := s.registry.Lookup(event.Swipe)
	if !ok {
		return false, nil
	}
	swiper, ok := service.(interface {
		Swipe(services.Direction) (bool, error)
	})
	if !ok {
		return false, nil
	}
	return swiper.Swipe(direction)
}
