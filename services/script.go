// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
)

// Runner executes program with the interpreter argv and returns its
// stdout.
type Runner func(ctx context.Context, argv []string, program string) (string, error)

// ExecRunner runs argv as a child process with program on stdin.
func ExecRunner(ctx context.Context, argv []string, program string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("script: empty interpreter")
	}
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, argv[0], argv[1:]...)
	command.Stdin = strings.NewReader(program)
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if message := strings.TrimSpace(stderr.String()); message != "" {
			return "", fmt.Errorf("%s: %s", argv[0], message)
		}
		return "", fmt.Errorf("%s: %w", argv[0], err)
	}
	return stdout.String(), nil
}

// ScriptConfig configures the Script service.
type ScriptConfig struct {
	// Interpreters maps a language to its argv.
	Interpreters map[string][]string

	// Timeout bounds one execution. Zero means no limit beyond the
	// session.
	Timeout time.Duration

	// Runner defaults to ExecRunner.
	Runner Runner

	Logger *slog.Logger
}

// Script evaluates code blocks in local interpreters. Every exec is
// answered with {ok, result, error}; an exec from the same track
// replaces the running one.
type Script struct {
	interpreters map[string][]string
	timeout      time.Duration
	runner       Runner
	logger       *slog.Logger
	send         event.Send

	mu      sync.Mutex
	running map[string]*scriptRun
}

type scriptRun struct {
	cancel context.CancelFunc
}

// NewScript returns a Script service.
func NewScript(cfg ScriptConfig) *Script {
	runner := cfg.Runner
	if runner == nil {
		runner = ExecRunner
	}
	return &Script{
		interpreters: cfg.Interpreters,
		timeout:      cfg.Timeout,
		runner:       runner,
		logger:       discardLogger(cfg.Logger),
		running:      make(map[string]*scriptRun),
	}
}

func (s *Script) Topic() event.Topic { return event.Script }

func (s *Script) Init(send event.Send, _ connector.Connector) error {
	if len(s.interpreters) == 0 {
		return errors.New("no interpreters configured")
	}
	s.send = send
	return nil
}

type execParam struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// ScriptResult is the param of an exec answer.
type ScriptResult struct {
	OK     bool   `json:"ok"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (s *Script) Handle(ctx context.Context, ev event.Event) error {
	if s.send == nil {
		return ErrNotInitialized
	}
	switch ev.Message.Cmd {
	case "exec", "eval":
		var param execParam
		if err := ev.Message.Decode(&param); err != nil {
			return err
		}
		argv, ok := s.interpreters[param.Language]
		if !ok {
			reply(s.send, s.logger, ev, ScriptResult{Error: fmt.Sprintf("no interpreter for %q", param.Language)})
			return nil
		}
		s.exec(ctx, ev, argv, param.Code)
		return nil

	case "stop":
		s.cancel(ev.Track.String())
		return nil
	}
	return unknownCommand(ev)
}

func (s *Script) exec(parent context.Context, ev event.Event, argv []string, code string) {
	var ctx context.Context
	var cancel context.CancelFunc
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, s.timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	key := ev.Track.String()
	run := &scriptRun{cancel: cancel}
	s.mu.Lock()
	if previous, ok := s.running[key]; ok {
		previous.cancel()
	}
	s.running[key] = run
	s.mu.Unlock()

	go func() {
		started := time.Now()
		output, err := s.runner(ctx, argv, code)
		s.release(key, run)

		result := ScriptResult{OK: err == nil, Result: output}
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			result.Error = fmt.Sprintf("timed out after %s", s.timeout)
		case errors.Is(err, context.Canceled):
			result.Error = "stopped"
		case err != nil:
			result.Error = err.Error()
		}
		s.logger.Debug("script finished",
			"interpreter", argv[0],
			"track", key,
			"ok", result.OK,
			"duration", time.Since(started),
		)
		reply(s.send, s.logger, ev, result)
	}()
}

// release forgets run if it is still the current run of key.
func (s *Script) release(key string, run *scriptRun) {
	run.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[key] == run {
		delete(s.running, key)
	}
}

func (s *Script) cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.running[key]; ok {
		run.cancel()
		delete(s.running, key)
	}
}
