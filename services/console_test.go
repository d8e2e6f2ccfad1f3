// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/testutil"
)

func TestConsoleLevels(t *testing.T) {
	recorder := testutil.NewLogRecorder()
	console := NewConsole(recorder.Logger())

	tests := []struct {
		cmd   string
		param string
		want  string
		level slog.Level
	}{
		{"log", `"plain"`, "plain", slog.LevelInfo},
		{"warn", `["value is", 42, {"a":1}]`, `value is 42 {"a":1}`, slog.LevelWarn},
		{"error", `{"stack":"x"}`, `{"stack":"x"}`, slog.LevelError},
		{"debug", `"details"`, "details", slog.LevelDebug},
	}
	for _, test := range tests {
		handle(t, console, request(event.Console, test.cmd, test.param, event.Step{Topic: "script", ID: 1}))
		record, ok := recorder.Find(test.want)
		if !ok {
			t.Errorf("%s: no record %q in %+v", test.cmd, test.want, recorder.Records())
			continue
		}
		if record.Level != test.level || record.Attrs["source"] != "course" {
			t.Errorf("%s: record = %+v", test.cmd, record)
		}
	}

	handle(t, console, request(event.Console, "clear", ""))
	if err := console.Handle(context.Background(), request(event.Console, "table", "")); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command: %v", err)
	}
}
