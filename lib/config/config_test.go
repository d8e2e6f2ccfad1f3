// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Environment != Development {
		t.Errorf("environment = %s, want development", cfg.Environment)
	}
	if !cfg.Sync.Allow {
		t.Error("sync.allow should default to true")
	}
	if cfg.ScriptTimeout() != 10*time.Second {
		t.Errorf("ScriptTimeout = %v", cfg.ScriptTimeout())
	}
}

func TestLoadRequiresLiaportConfig(t *testing.T) {
	t.Setenv("LIAPORT_CONFIG", "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when LIAPORT_CONFIG is unset")
	}
	if !strings.HasPrefix(err.Error(), "LIAPORT_CONFIG environment variable not set") {
		t.Errorf("unexpected message %q", err)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("HOME", "/home/student")
	path := filepath.Join(t.TempDir(), "liaport.yaml")
	content := `
course:
  url: https://example.org/course.md
paths:
  state: ${HOME}/lia
sync:
  allow: true
  backends:
    pubnub:
      publishKey: pub-c-1
      subscribeKey: sub-c-1
script:
  timeout: 3s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("LIAPORT_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Course.URL != "https://example.org/course.md" {
		t.Errorf("course.url = %q", cfg.Course.URL)
	}
	if cfg.Paths.State != "/home/student/lia" {
		t.Errorf("paths.state = %q", cfg.Paths.State)
	}
	if cfg.Paths.Database != "/home/student/lia/courses.db" {
		t.Errorf("paths.database = %q", cfg.Paths.Database)
	}
	if cfg.ScriptTimeout() != 3*time.Second {
		t.Errorf("ScriptTimeout = %v", cfg.ScriptTimeout())
	}

	raw, err := cfg.Sync.BackendConfig("pubnub")
	if err != nil {
		t.Fatalf("BackendConfig: %v", err)
	}
	if string(raw) != `{"publishKey":"pub-c-1","subscribeKey":"sub-c-1"}` {
		t.Errorf("pubnub config = %s", raw)
	}
	if raw, _ := cfg.Sync.BackendConfig("gun"); raw != nil {
		t.Errorf("unconfigured backend gave %s", raw)
	}
}

func TestLoadJSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liaport.jsonc")
	content := `{
  // comments and trailing commas are allowed
  "environment": "production",
  "paths": {"database": "/var/lib/liaport/db.sqlite",},
  "share": {"command": "xdg-open"},
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Environment != Production {
		t.Errorf("environment = %s", cfg.Environment)
	}
	if cfg.Paths.Database != "/var/lib/liaport/db.sqlite" {
		t.Errorf("paths.database = %q", cfg.Paths.Database)
	}
	if cfg.Share.Command != "xdg-open" {
		t.Errorf("share.command = %q", cfg.Share.Command)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
environment: production
sync:
  allow: true
production:
  paths:
    socket: /run/liaport/engine.sock
  sync:
    allow: false
development:
  paths:
    socket: /tmp/dev.sock
`), ".yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Paths.Socket != "/run/liaport/engine.sock" {
		t.Errorf("paths.socket = %q", cfg.Paths.Socket)
	}
	if cfg.Sync.Allow {
		t.Error("production override should disable sync")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("LIAPORT_TEST_VAR", "from-env")
	tests := []struct {
		input string
		want  string
	}{
		{"${NAMED}/x", "given/x"},
		{"${LIAPORT_TEST_VAR}", "from-env"},
		{"${LIAPORT_UNSET_VAR:-fallback}", "fallback"},
		{"plain", "plain"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, map[string]string{"NAMED": "given"}); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Paths.Database = "/tmp/x.db"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cfg.Environment = "staging"
	cfg.Script.Timeout = "soon"
	cfg.Resource.MaxBytes = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, fragment := range []string{"environment", "script.timeout", "resource.max_bytes"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %s", err, fragment)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Paths.State = filepath.Join(root, "state")
	cfg.Paths.Database = filepath.Join(root, "data", "courses.db")
	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{cfg.Paths.State, filepath.Join(root, "data")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
}
