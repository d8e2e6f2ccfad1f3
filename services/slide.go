// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"sync"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
)

// Slide tracks the slide the engine shows. Persisting the position is
// done by the router before Handle runs; Slide only keeps it for
// queries. Navigation commands other than get are accepted silently.
type Slide struct {
	send event.Send

	mu      sync.Mutex
	current int
	known   bool
}

func NewSlide() *Slide { return &Slide{} }

func (s *Slide) Topic() event.Topic { return event.Slide }

func (s *Slide) Init(send event.Send, _ connector.Connector) error {
	s.send = send
	return nil
}

// Current returns the last reported slide.
func (s *Slide) Current() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.known
}

func (s *Slide) Handle(_ context.Context, ev event.Event) error {
	if ev.Message.Cmd == "get" {
		current, known := s.Current()
		var slide any
		if known {
			slide = current
		}
		answer, err := ev.Answer(map[string]any{"slide": slide})
		if err != nil {
			return err
		}
		s.send(answer)
		return nil
	}
	var param struct {
		Slide *int `json:"slide"`
	}
	if err := ev.Message.Decode(&param); err != nil {
		return err
	}
	if param.Slide != nil {
		s.mu.Lock()
		s.current, s.known = *param.Slide, true
		s.mu.Unlock()
	}
	return nil
}
