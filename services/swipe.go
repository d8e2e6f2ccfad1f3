// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
)

// Direction is a swipe gesture direction.
type Direction string

const (
	Left  Direction = "left"
	Right Direction = "right"
	Up    Direction = "up"
	Down  Direction = "down"
)

// Swipe forwards gestures detected by the host to the engine while
// the engine has them enabled.
type Swipe struct {
	send    event.Send
	enabled atomic.Bool
}

func NewSwipe() *Swipe { return &Swipe{} }

func (s *Swipe) Topic() event.Topic { return event.Swipe }

func (s *Swipe) Init(send event.Send, _ connector.Connector) error {
	s.send = send
	return nil
}

func (s *Swipe) Handle(_ context.Context, ev event.Event) error {
	switch ev.Message.Cmd {
	case "enable":
		s.enabled.Store(true)
	case "disable":
		s.enabled.Store(false)
	default:
		return unknownCommand(ev)
	}
	return nil
}

// Swipe reports a gesture. It returns false when swipes are disabled
// or the service is not initialized.
func (s *Swipe) Swipe(direction Direction) (bool, error) {
	switch direction {
	case Left, Right, Up, Down:
	default:
		return false, fmt.Errorf("swipe: unknown direction %q", direction)
	}
	if s.send == nil || !s.enabled.Load() {
		return false, nil
	}
	ev, err := event.New(event.Swipe, "swipe", direction)
	if err != nil {
		return false, err
	}
	s.send(ev)
	return true, nil
}
