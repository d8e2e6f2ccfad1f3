// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"log/slog"
	"sync"
)

// Send delivers an event toward the engine. Implementations are safe
// for concurrent use: services reply from their own goroutines.
type Send func(Event)

// Outbound returns the Send used by every service. Events without
// Reply are dropped; the rest are passed to write one at a time. A
// write error is logged and the event is lost.
func Outbound(write func(Event) error, logger *slog.Logger) Send {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var mu sync.Mutex
	return func(ev Event) {
		if !ev.Reply {
			logger.Debug("suppressed non-reply event", "service", ev.Service, "cmd", ev.Message.Cmd)
			return
		}
		logger.Info("event to engine", "service", ev.Service, "cmd", ev.Message.Cmd, "track", ev.Track.String())

		mu.Lock()
		err := write(ev)
		mu.Unlock()
		if err != nil {
			logger.Error("writing event to engine failed", "service", ev.Service, "error", err)
		}
	}
}
