// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/liaport/event"
)

var (
	// ErrUnknownCommand is returned by Handle for a command the
	// service does not implement.
	ErrUnknownCommand = errors.New("services: unknown command")

	// ErrNotInitialized is returned by Handle before Init.
	ErrNotInitialized = errors.New("services: service not initialized")
)

func unknownCommand(ev event.Event) error {
	return fmt.Errorf("%w: %s/%q", ErrUnknownCommand, ev.Service, ev.Message.Cmd)
}

// reply answers ev with param. Encoding failures are logged; a reply
// that cannot be built is lost.
func reply(send event.Send, logger *slog.Logger, ev event.Event, param any) {
	answer, err := ev.Answer(param)
	if err != nil {
		logger.Error("building reply", "service", ev.Service, "cmd", ev.Message.Cmd, "error", err)
		return
	}
	send(answer)
}

func discardLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
