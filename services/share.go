// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
)

// Link is the document handed to the share command.
type Link struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
	URL   string `json:"url"`
}

// Share hands links to a host command (a clipboard tool, a mail
// client, a messenger) with the link as JSON on stdin.
type Share struct {
	command string
	args    []string
	logger  *slog.Logger
	send    event.Send
}

// NewShare returns a Share service running command. An empty command
// leaves sharing unsupported.
func NewShare(command string, args []string, logger *slog.Logger) *Share {
	return &Share{command: command, args: args, logger: discardLogger(logger)}
}

// Supported reports whether the share command can be found.
func (s *Share) Supported() bool {
	if s.command == "" {
		return false
	}
	_, err := exec.LookPath(s.command)
	return err == nil
}

func (s *Share) Topic() event.Topic { return event.Share }

func (s *Share) Init(send event.Send, _ connector.Connector) error {
	if s.command == "" {
		return errors.New("no share command configured")
	}
	s.send = send
	return nil
}

func (s *Share) Handle(ctx context.Context, ev event.Event) error {
	if s.send == nil {
		return ErrNotInitialized
	}
	if ev.Message.Cmd != "link" {
		return unknownCommand(ev)
	}
	var link Link
	if err := ev.Message.Decode(&link); err != nil {
		return err
	}
	if link.URL == "" {
		return errors.New("share: link without url")
	}
	go func() {
		result := map[string]any{"ok": true}
		if err := s.run(ctx, link); err != nil {
			s.logger.Warn("sharing link failed", "url", link.URL, "error", err)
			result = map[string]any{"ok": false, "error": err.Error()}
		}
		reply(s.send, s.logger, ev, result)
	}()
	return nil
}

func (s *Share) run(ctx context.Context, link Link) error {
	document, err := json.Marshal(link)
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, s.command, s.args...)
	command.Stdin = bytes.NewReader(document)
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("%s: %w (stderr: %s)", s.command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
