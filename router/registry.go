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

// Service handles the events of one topic.
type Service interface {
	Topic() event.Topic

	// Init is called once before any Handle. send is the only channel
	// back to the engine; conn may be used for persistent state.
	Init(send event.Send, conn connector.Connector) error

	// Handle must return promptly. Slow work runs on goroutines bound
	// to ctx and answers through send.
	Handle(ctx context.Context, ev event.Event) error
}

// Registry maps topics to initialized services.
type Registry struct {
	services map[event.Topic]Service
	order    []event.Topic
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[event.Topic]Service)}
}

// Register adds service. Panics if its topic is already registered.
func (r *Registry) Register(service Service) {
	topic := service.Topic()
	if _, exists := r.services[topic]; exists {
		panic(fmt.Sprintf("router.Registry: duplicate service for topic %q", topic))
	}
	r.services[topic] = service
	r.order = append(r.order, topic)
}

// Lookup returns the service registered for topic.
func (r *Registry) Lookup(topic event.Topic) (Service, bool) {
	service, ok := r.services[topic]
	return service, ok
}

// Topics lists registered topics in registration order.
func (r *Registry) Topics() []event.Topic {
	return append([]event.Topic(nil), r.order...)
}

// InitAll initializes services in the given order and returns a
// registry of those that succeeded. Each failure is logged as a
// ServiceInitError; it is not returned. Two services with the same
// topic panic.
func InitAll(ctx context.Context, services []Service, send event.Send, conn connector.Connector, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	registry := NewRegistry()
	seen := make(map[event.Topic]bool, len(services))
	for _, service := range services {
		topic := service.Topic()
		if seen[topic] {
			panic(fmt.Sprintf("router.InitAll: duplicate service for topic %q", topic))
		}
		seen[topic] = true

		if err := service.Init(send, conn); err != nil {
			initErr := &ServiceInitError{Topic: topic, Err: err}
			logger.ErrorContext(ctx, "service unavailable for this session", "topic", topic, "error", initErr)
			continue
		}
		registry.Register(service)
		logger.DebugContext(ctx, "service initialized", "topic", topic)
	}
	return registry
}
