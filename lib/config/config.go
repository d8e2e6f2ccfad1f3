// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment selects which override section applies.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the liaport configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Course    CourseConfig    `yaml:"course"`
	Paths     PathsConfig     `yaml:"paths"`
	Sync      SyncConfig      `yaml:"sync"`
	TTS       TTSConfig       `yaml:"tts"`
	Script    ScriptConfig    `yaml:"script"`
	Resource  ResourceConfig  `yaml:"resource"`
	Translate TranslateConfig `yaml:"translate"`
	Share     ShareConfig     `yaml:"share"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the per-environment replaceable sections.
type Overrides struct {
	Paths *PathsConfig `yaml:"paths,omitempty"`
	Sync  *SyncConfig  `yaml:"sync,omitempty"`
}

// CourseConfig describes the course handed to the engine.
type CourseConfig struct {
	// URL of the course document, forwarded in the engine flags.
	URL string `yaml:"url"`

	// Script is a course source file whose contents are handed to the
	// engine inline, for courses that are not served from URL.
	Script string `yaml:"script"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	// State is the directory holding the database and sockets.
	State string `yaml:"state"`

	// Database is the SQLite file behind the course connector.
	Database string `yaml:"database"`

	// Socket is where the engine connects. Empty means stdio.
	Socket string `yaml:"socket"`
}

// SyncConfig controls real-time synchronization.
type SyncConfig struct {
	// Allow enables sync. When false no backend is offered.
	Allow bool `yaml:"allow"`

	// Backends holds default adapter configuration keyed by backend
	// tag. A connect request without its own config uses these.
	Backends map[string]map[string]any `yaml:"backends"`
}

// BackendConfig returns the default configuration for tag as JSON, or
// nil if none is configured.
func (s SyncConfig) BackendConfig(tag string) (json.RawMessage, error) {
	settings, ok := s.Backends[tag]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("config: sync.backends.%s: %w", tag, err)
	}
	return data, nil
}

// TTSConfig names the external speech command. The text to speak is
// written to its stdin.
type TTSConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// VoiceFlag is passed before the voice a course asks for, e.g.
	// "-v" for espeak-ng. Empty ignores requested voices.
	VoiceFlag string `yaml:"voice_flag"`
}

// ScriptConfig maps a script language to the interpreter argv that
// reads the program from stdin.
type ScriptConfig struct {
	Interpreters map[string][]string `yaml:"interpreters"`
	Timeout      string              `yaml:"timeout"`
}

// ResourceConfig bounds resource fetches.
type ResourceConfig struct {
	Timeout  string `yaml:"timeout"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// TranslateConfig points at a JSON dictionary of
// {"lang": {"phrase": "translation"}}.
type TranslateConfig struct {
	Dictionary string `yaml:"dictionary"`
}

// ShareConfig names the command invoked to share a link. The shared
// JSON document is written to its stdin. Empty disables sharing.
type ShareConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Default returns the values a loaded file is merged onto.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			State:    "${HOME}/.local/state/liaport",
			Database: "${LIAPORT_STATE}/courses.db",
		},
		Sync: SyncConfig{Allow: true},
		TTS:  TTSConfig{Command: "espeak-ng", Args: []string{"--stdin"}, VoiceFlag: "-v"},
		Script: ScriptConfig{
			Interpreters: map[string][]string{
				"python": {"python3", "-"},
				"sh":     {"sh", "-s"},
			},
			Timeout: "10s",
		},
		Resource: ResourceConfig{Timeout: "15s", MaxBytes: 8 << 20},
	}
}

// Load reads the file named by LIAPORT_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("LIAPORT_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("LIAPORT_CONFIG environment variable not set; " +
			"set it to the path of your liaport.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile reads path over Default, applies the environment section
// and expands variables.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over Default. ext selects the format: ".json"
// and ".jsonc" are JSON with comments, anything else YAML.
func Parse(data []byte, ext string) (*Config, error) {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so one set of struct tags serves both.
		data = jsonc.ToJSON(data)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		if paths.State != "" {
			c.Paths.State = paths.State
		}
		if paths.Database != "" {
			c.Paths.Database = paths.Database
		}
		if paths.Socket != "" {
			c.Paths.Socket = paths.Socket
		}
	}
	if sync := overrides.Sync; sync != nil {
		// Allow is a bool, so an override section always sets it.
		c.Sync.Allow = sync.Allow
		for tag, settings := range sync.Backends {
			if c.Sync.Backends == nil {
				c.Sync.Backends = make(map[string]map[string]any)
			}
			c.Sync.Backends[tag] = settings
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["LIAPORT_STATE"] = c.Paths.State

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.Socket = expandVars(c.Paths.Socket, vars)
	c.Translate.Dictionary = expandVars(c.Translate.Dictionary, vars)
	c.Course.Script = expandVars(c.Course.Script, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${NAME} and ${NAME:-default}, preferring vars
// over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value := vars[name]; value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Paths.Database == "" {
		errs = append(errs, errors.New("paths.database is required"))
	}
	if _, err := parseDuration(c.Script.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("script.timeout: %w", err))
	}
	if _, err := parseDuration(c.Resource.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("resource.timeout: %w", err))
	}
	if c.Resource.MaxBytes <= 0 {
		errs = append(errs, errors.New("resource.max_bytes must be positive"))
	}
	for language, argv := range c.Script.Interpreters {
		if len(argv) == 0 {
			errs = append(errs, fmt.Errorf("script.interpreters.%s is empty", language))
		}
	}
	return errors.Join(errs...)
}

// ScriptTimeout returns script.timeout, or 10s if unset.
func (c *Config) ScriptTimeout() time.Duration {
	d, err := parseDuration(c.Script.Timeout)
	if err != nil || d == 0 {
		return 10 * time.Second
	}
	return d
}

// ResourceTimeout returns resource.timeout, or 15s if unset.
func (c *Config) ResourceTimeout() time.Duration {
	d, err := parseDuration(c.Resource.Timeout)
	if err != nil || d == 0 {
		return 15 * time.Second
	}
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// EnsurePaths creates the state directory and the database's parent.
func (c *Config) EnsurePaths() error {
	for _, dir := range []string{c.Paths.State, filepath.Dir(c.Paths.Database)} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
