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
	"sync"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
)

// Speaker reads text aloud and returns when it is done or ctx ends.
type Speaker interface {
	Speak(ctx context.Context, text, voice string) error
}

// CommandSpeaker runs an external speech command with the text on
// stdin.
type CommandSpeaker struct {
	Command string
	Args    []string

	// VoiceFlag, if set, is passed with the requested voice.
	VoiceFlag string
}

func (s CommandSpeaker) Speak(ctx context.Context, text, voice string) error {
	if s.Command == "" {
		return errors.New("tts: no speech command configured")
	}
	args := append([]string(nil), s.Args...)
	if s.VoiceFlag != "" && voice != "" {
		args = append(args, s.VoiceFlag, voice)
	}
	var stderr bytes.Buffer
	command := exec.CommandContext(ctx, s.Command, args...)
	command.Stdin = strings.NewReader(text)
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("tts: %s: %w (stderr: %s)", s.Command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// TTS speaks course text. One utterance plays at a time: speak cancels
// the previous one. A speak request is answered with "start" and then
// "stop", or "error".
type TTS struct {
	speaker Speaker
	logger  *slog.Logger
	send    event.Send

	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64
}

// NewTTS returns a TTS service speaking through speaker.
func NewTTS(speaker Speaker, logger *slog.Logger) *TTS {
	return &TTS{speaker: speaker, logger: discardLogger(logger)}
}

func (s *TTS) Topic() event.Topic { return event.TTS }

func (s *TTS) Init(send event.Send, _ connector.Connector) error {
	if s.speaker == nil {
		return errors.New("no speaker")
	}
	s.send = send
	return nil
}

type speakParam struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// decodeSpeak accepts either a bare string or {text, voice}.
func decodeSpeak(ev event.Event) (speakParam, error) {
	var param speakParam
	raw := bytes.TrimSpace(ev.Message.Param)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &param.Text); err != nil {
			return speakParam{}, fmt.Errorf("tts: %w", err)
		}
		return param, nil
	}
	if err := ev.Message.Decode(&param); err != nil {
		return speakParam{}, err
	}
	return param, nil
}

func (s *TTS) Handle(ctx context.Context, ev event.Event) error {
	if s.send == nil {
		return ErrNotInitialized
	}
	switch ev.Message.Cmd {
	case "speak", "repeat":
		param, err := decodeSpeak(ev)
		if err != nil {
			return err
		}
		speech := SpeechText(param.Text)
		if speech == "" {
			reply(s.send, s.logger, ev, "stop")
			return nil
		}
		s.start(ctx, ev, speech, param.Voice)
		return nil

	case "cancel":
		s.stop()
		return nil
	}
	return unknownCommand(ev)
}

func (s *TTS) start(parent context.Context, ev event.Event, speech, voice string) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.generation++
	generation := s.generation
	s.mu.Unlock()

	reply(s.send, s.logger, ev, "start")
	go func() {
		defer s.finish(generation, cancel)
		err := s.speaker.Speak(ctx, speech, voice)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("speech failed", "track", ev.Track.String(), "error", err)
			reply(s.send, s.logger, ev, "error")
			return
		}
		reply(s.send, s.logger, ev, "stop")
	}()
}

func (s *TTS) finish(generation uint64, cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == generation {
		s.cancel = nil
	}
}

func (s *TTS) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
