// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/liaport/event"
)

// ErrUnroutable matches every UnroutableError.
var ErrUnroutable = errors.New("router: no service for topic")

// UnroutableError reports an event whose topic has no registered
// service.
type UnroutableError struct {
	Topic event.Topic
}

func (e *UnroutableError) Error() string {
	return fmt.Sprintf("router: no service for topic %q", e.Topic)
}

func (e *UnroutableError) Unwrap() error { return ErrUnroutable }

// ServiceInitError reports a service whose Init failed.
type ServiceInitError struct {
	Topic event.Topic
	Err   error
}

func (e *ServiceInitError) Error() string {
	return fmt.Sprintf("router: initializing %s service: %v", e.Topic, e.Err)
}

func (e *ServiceInitError) Unwrap() error { return e.Err }
