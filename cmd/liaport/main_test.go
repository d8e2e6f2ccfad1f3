// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/config"
	"github.com/bureau-foundation/liaport/realtime/beaker"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "liaport.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParseScreen(t *testing.T) {
	screen, err := parseScreen("1920X1080")
	if err != nil || screen.Width != 1920 || screen.Height != 1080 {
		t.Errorf("parseScreen = %+v, %v", screen, err)
	}
	for _, bad := range []string{"", "1920", "x1080", "0x10", "wide x tall"} {
		if _, err := parseScreen(bad); err == nil {
			t.Errorf("parseScreen(%q) succeeded", bad)
		}
	}
}

func TestCourseScript(t *testing.T) {
	if script, err := courseScript(""); err != nil || script != "" {
		t.Errorf("courseScript(\"\") = %q, %v", script, err)
	}
	path := filepath.Join(t.TempDir(), "course.md")
	if err := os.WriteFile(path, []byte("# Inline course\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if script, err := courseScript(path); err != nil || script != "# Inline course\n" {
		t.Errorf("courseScript = %q, %v", script, err)
	}
	if _, err := courseScript(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("courseScript succeeded for a missing file")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"version"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(out.String(), "liaport ") {
		t.Errorf("output = %q", out.String())
	}
	if err := run([]string{"launch"}, &out); err == nil {
		t.Error("unknown command accepted")
	}
}

func TestBackendsCommand(t *testing.T) {
	t.Setenv(beaker.DirEnv, "")
	state := t.TempDir()
	path := writeConfig(t, `
paths:
  database: `+filepath.Join(state, "courses.db")+`
sync:
  allow: true
  backends:
    matrix:
      homeserver: https://matrix.example.org
`)
	var out bytes.Buffer
	if err := run([]string{"--config", path, "backends"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "gun\njitsi\nmatrix (configured)\npubnub\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}

	disabled := writeConfig(t, "paths:\n  database: "+filepath.Join(state, "courses.db")+"\nsync:\n  allow: false\n")
	out.Reset()
	if err := run([]string{"--config", disabled, "backends"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "sync disabled\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestNewServicesOrder(t *testing.T) {
	list := newServices(config.Default(), slog.New(slog.DiscardHandler))
	topics := make([]event.Topic, len(list))
	for i, service := range list {
		topics[i] = service.Topic()
	}
	if !slices.Equal(topics, event.Topics()) {
		t.Errorf("service order = %v, want %v", topics, event.Topics())
	}
}

func TestLoggerFormat(t *testing.T) {
	var out bytes.Buffer
	newLoggerTo(&out, false, false).Info("hello", "n", 1)
	var record map[string]any
	if err := json.Unmarshal(out.Bytes(), &record); err != nil || record["msg"] != "hello" {
		t.Errorf("non-terminal output %q is not JSON (%v)", out.String(), err)
	}

	out.Reset()
	logger := newLoggerTo(&out, true, true)
	logger.Debug("details")
	if !strings.Contains(out.String(), "msg=details") {
		t.Errorf("terminal debug output = %q", out.String())
	}
}
