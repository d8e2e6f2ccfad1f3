// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
)

// Config holds the dependencies of a Router.
type Config struct {
	Registry *Registry

	// Connector receives slide positions. May be nil.
	Connector connector.Connector

	Logger *slog.Logger

	// OnDiagnostic, if set, is called once for every unroutable event
	// and every failed handler, in addition to logging.
	OnDiagnostic func(error)
}

// Router is the single entry point for engine events.
type Router struct {
	registry     *Registry
	connector    connector.Connector
	logger       *slog.Logger
	onDiagnostic func(error)
}

// New returns a Router over cfg.Registry.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Router{
		registry:     registry,
		connector:    cfg.Connector,
		logger:       logger,
		onDiagnostic: cfg.OnDiagnostic,
	}
}

// Route delivers ev to the service registered for ev.Service.
func (r *Router) Route(ctx context.Context, ev event.Event) {
	r.logger.DebugContext(ctx, "event from engine", "service", ev.Service, "cmd", ev.Message.Cmd, "track", ev.Track.String())

	service, ok := r.registry.Lookup(ev.Service)
	if !ok {
		err := &UnroutableError{Topic: ev.Service}
		r.logger.WarnContext(ctx, "unroutable event", "topic", ev.Service, "cmd", ev.Message.Cmd)
		r.diagnose(err)
		return
	}

	if ev.Service == event.Slide {
		r.recordSlide(ctx, ev)
	}

	if err := r.invoke(ctx, service, ev); err != nil {
		r.logger.ErrorContext(ctx, "service failed to handle event",
			"topic", ev.Service,
			"cmd", ev.Message.Cmd,
			"error", err,
		)
		r.diagnose(err)
	}
}

// recordSlide stores param.slide through the connector. Failures are
// logged and do not prevent dispatch.
func (r *Router) recordSlide(ctx context.Context, ev event.Event) {
	if r.connector == nil {
		return
	}
	var param struct {
		Slide *int `json:"slide"`
	}
	if err := ev.Message.Decode(&param); err != nil || param.Slide == nil {
		return
	}
	// Slide 0 is a position like any other: going back to the title
	// slide must be remembered too.
	if err := r.connector.Slide(ctx, *param.Slide); err != nil {
		r.logger.WarnContext(ctx, "recording slide position failed", "slide", *param.Slide, "error", err)
	}
}

func (r *Router) invoke(ctx context.Context, service Service, ev event.Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("router: %s handler panicked: %v", ev.Service, recovered)
		}
	}()
	return service.Handle(ctx, ev)
}

func (r *Router) diagnose(err error) {
	if r.onDiagnostic != nil {
		r.onDiagnostic(err)
	}
}
