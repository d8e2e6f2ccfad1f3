// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jitsi implements the jitsi sync backend on the videobridge
// colibri-ws bridge channel. Every participant of a conference holds a
// bridge channel; an EndpointMessage with an empty "to" is relayed to
// all other endpoints.
package jitsi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/clock"
	"github.com/bureau-foundation/liaport/lib/wsconn"
	"github.com/bureau-foundation/liaport/realtime"
)

// Colibri message classes used on the bridge channel.
const (
	ClassServerHello     = "ServerHello"
	ClassEndpointMessage = "EndpointMessage"
)

// payloadKey names the msgPayload field carrying the envelope text.
const payloadKey = "liaport"

// Config is the backend config the engine sends with connect.
type Config struct {
	// URL is the colibri-ws endpoint, e.g.
	// wss://meet.example.org/colibri-ws/jvb1/<conference>/<endpoint>?pwd=...
	URL string `json:"url"`

	// Endpoint overrides the endpoint id stamped on outgoing
	// messages. Defaults to the last path segment of URL.
	Endpoint string `json:"endpoint"`

	realtime.Options
}

// Message is one colibri bridge channel message.
type Message struct {
	ColibriClass string          `json:"colibriClass"`
	From         string          `json:"from,omitempty"`
	To           string          `json:"to"`
	MsgPayload   json.RawMessage `json:"msgPayload,omitempty"`
}

// Options configures the adapter itself.
type Options struct {
	Dialer *websocket.Dialer
	Clock  clock.Clock
	Logger *slog.Logger

	// ReadyTimeout bounds the wait for ServerHello. Zero means
	// realtime.DefaultReadyTimeout.
	ReadyTimeout time.Duration
}

// Adapter is the jitsi realtime.Adapter.
type Adapter struct {
	realtime.Slot
	options Options
}

var _ realtime.Adapter = (*Adapter)(nil)

// New returns an unconnected adapter.
func New(options Options) *Adapter {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.ReadyTimeout == 0 {
		options.ReadyTimeout = realtime.DefaultReadyTimeout
	}
	return &Adapter{options: options}
}

// Factory adapts New to realtime.Factory.
func Factory(options Options) realtime.Factory {
	return func() realtime.Adapter { return New(options) }
}

// ParseConfig decodes and validates a backend config.
func ParseConfig(raw json.RawMessage) (Config, error) {
	var cfg Config
	if len(raw) == 0 {
		return Config{}, errors.New("jitsi: config is required")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("jitsi: config: %w", err)
	}
	if cfg.URL == "" {
		return Config{}, errors.New("jitsi: url is required")
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return Config{}, fmt.Errorf("jitsi: url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return Config{}, fmt.Errorf("jitsi: url scheme must be ws or wss, got %q", parsed.Scheme)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = lastSegment(parsed.Path)
	}
	if _, err := realtime.ParseOptions(raw); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// Connect validates config and opens the bridge channel in the
// background.
func (a *Adapter) Connect(ctx context.Context, raw json.RawMessage, callbacks realtime.Callbacks) error {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return err
	}
	channel := &bridgeChannel{
		config:    cfg,
		dialer:    a.options.Dialer,
		connected: make(chan struct{}),
	}
	channel.session = realtime.NewSession(ctx, realtime.SessionConfig{
		Backend:   realtime.Jitsi,
		Origin:    uuid.NewString(),
		Options:   cfg.Options,
		Callbacks: callbacks,
		Write:     channel.send,
		Clock:     a.options.Clock,
		Logger:    a.options.Logger,

		ReadyTimeout: a.options.ReadyTimeout,
	})
	a.Set(channel.session)
	go channel.run()
	return nil
}

type bridgeChannel struct {
	config  Config
	dialer  *websocket.Dialer
	session *realtime.Session

	// connected is closed once conn is set.
	connected chan struct{}
	conn      *wsconn.Conn
}

func (b *bridgeChannel) run() {
	ctx := b.session.Context()
	logger := b.session.Logger()

	conn, err := wsconn.Dial(ctx, wsconn.Config{
		URL:       b.config.URL,
		Dialer:    b.dialer,
		OnMessage: b.receive,
		Logger:    logger,
	})
	if err != nil {
		b.session.Fail(err)
		return
	}
	b.conn = conn
	close(b.connected)

	err = conn.Run(ctx)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errors.New("jitsi: bridge channel closed")
	}
	b.session.Fail(err)
}

func (b *bridgeChannel) receive(messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		b.session.Logger().Debug("ignoring malformed bridge message", "error", err)
		return
	}
	switch message.ColibriClass {
	case ClassServerHello:
		b.session.Ready()
	case ClassEndpointMessage:
		if message.From == b.config.Endpoint || len(message.MsgPayload) == 0 {
			return
		}
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(message.MsgPayload, &payload); err != nil {
			return
		}
		var text string
		if raw, ok := payload[payloadKey]; !ok || json.Unmarshal(raw, &text) != nil {
			// Endpoint messages from other applications share the channel.
			return
		}
		b.session.ReceiveText(text)
	}
}

// send is the outbox writer.
func (b *bridgeChannel) send(ctx context.Context, ev event.Event) error {
	select {
	case <-b.connected:
	case <-ctx.Done():
		return ctx.Err()
	}
	text, err := b.session.Codec().PackText(ev)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{payloadKey: text})
	if err != nil {
		return fmt.Errorf("jitsi: encoding payload: %w", err)
	}
	return b.conn.SendJSON(Message{
		ColibriClass: ClassEndpointMessage,
		From:         b.config.Endpoint,
		MsgPayload:   payload,
	})
}
