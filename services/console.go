// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
)

// Console forwards console output of course scripts to the log. It
// never answers.
type Console struct {
	logger *slog.Logger
}

// NewConsole returns a Console logging to logger.
func NewConsole(logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{logger: logger.With("source", "course")}
}

func (c *Console) Topic() event.Topic { return event.Console }

func (c *Console) Init(event.Send, connector.Connector) error { return nil }

func (c *Console) Handle(ctx context.Context, ev event.Event) error {
	var level slog.Level
	switch ev.Message.Cmd {
	case "debug":
		level = slog.LevelDebug
	case "log", "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	case "clear":
		return nil
	default:
		return unknownCommand(ev)
	}
	c.logger.Log(ctx, level, consoleText(ev.Message.Param), "track", ev.Track.String())
	return nil
}

// consoleText renders a console param: strings as-is, arrays joined
// with spaces, anything else as JSON.
func consoleText(param json.RawMessage) string {
	trimmed := bytes.TrimSpace(param)
	if len(trimmed) == 0 {
		return ""
	}
	switch trimmed[0] {
	case '"':
		var text string
		if json.Unmarshal(trimmed, &text) == nil {
			return text
		}
	case '[':
		var values []json.RawMessage
		if json.Unmarshal(trimmed, &values) == nil {
			parts := make([]string, len(values))
			for i, value := range values {
				parts[i] = consoleText(value)
			}
			return strings.Join(parts, " ")
		}
	}
	return string(trimmed)
}
