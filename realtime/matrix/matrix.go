// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrix implements the matrix sync backend: participants
// share a Matrix room and exchange envelopes as custom timeline events
// of type [EventType].
package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/clock"
	"github.com/bureau-foundation/liaport/messaging"
	"github.com/bureau-foundation/liaport/realtime"
)

// EventType is the Matrix event type carrying sync envelopes.
const EventType = "org.liascript.sync"

// logoutTimeout bounds the background logout after Disconnect.
const logoutTimeout = 5 * time.Second

// Config is the backend config the engine sends with connect. Either
// AccessToken or User and Password must be set.
type Config struct {
	Homeserver  string `json:"homeserver"`
	User        string `json:"user"`
	Password    string `json:"password"`
	AccessToken string `json:"accessToken"`

	// Room is a room ID (!id:server) or alias (#alias:server).
	Room string `json:"room"`

	realtime.Options
}

// Content is the body of an EventType event.
type Content struct {
	Origin  string `json:"origin"`
	Payload string `json:"payload"`
}

// Options configures the adapter itself.
type Options struct {
	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *slog.Logger

	// PollTimeout overrides the /sync long-poll hold in milliseconds.
	PollTimeout int
}

// Adapter is the matrix realtime.Adapter.
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
	if options.PollTimeout <= 0 {
		options.PollTimeout = messaging.LongPollTimeout
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
		return Config{}, errors.New("matrix: config is required")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("matrix: config: %w", err)
	}
	if cfg.Homeserver == "" {
		return Config{}, errors.New("matrix: homeserver is required")
	}
	if cfg.Room == "" {
		return Config{}, errors.New("matrix: room is required")
	}
	if cfg.AccessToken == "" && (cfg.User == "" || cfg.Password == "") {
		return Config{}, errors.New("matrix: accessToken or user and password are required")
	}
	if _, err := realtime.ParseOptions(raw); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Connect validates config and logs in, joins and syncs in the
// background. Ready fires after the join and the initial sync.
func (a *Adapter) Connect(ctx context.Context, raw json.RawMessage, callbacks realtime.Callbacks) error {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return err
	}
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver,
		HTTPClient:    a.options.HTTPClient,
		Logger:        a.options.Logger,
	})
	if err != nil {
		return err
	}

	room := &roomSession{
		client:      client,
		config:      cfg,
		pollTimeout: a.options.PollTimeout,
		joined:      make(chan struct{}),
	}
	room.session = realtime.NewSession(ctx, realtime.SessionConfig{
		Backend:   realtime.Matrix,
		Origin:    uuid.NewString(),
		Options:   cfg.Options,
		Callbacks: callbacks,
		Write:     room.send,
		Clock:     a.options.Clock,
		Logger:    a.options.Logger,
	})
	a.Set(room.session)
	go room.run()
	return nil
}

// roomSession is one connection to one room.
type roomSession struct {
	client      *messaging.Client
	config      Config
	pollTimeout int
	session     *realtime.Session

	// joined is closed once matrix and roomID are set.
	joined chan struct{}
	matrix *messaging.Session
	roomID string
}

func (r *roomSession) run() {
	ctx := r.session.Context()
	logger := r.session.Logger()

	if r.config.AccessToken != "" {
		r.matrix = r.client.SessionFromToken(r.config.User, r.config.AccessToken)
		if _, err := r.matrix.WhoAmI(ctx); err != nil {
			r.session.Fail(err)
			return
		}
	} else {
		matrixSession, err := r.client.Login(ctx, r.config.User, r.config.Password)
		if err != nil {
			r.session.Fail(err)
			return
		}
		r.matrix = matrixSession
		defer r.logout(logger)
	}

	roomID, err := r.matrix.JoinByAliasOrID(ctx, r.config.Room)
	if err != nil {
		r.session.Fail(err)
		return
	}
	r.roomID = roomID
	close(r.joined)

	watcher, err := messaging.WatchRoom(ctx, r.matrix, roomID, &messaging.SyncFilter{
		TimelineTypes: []string{EventType},
	}, logger)
	if err != nil {
		r.session.Fail(err)
		return
	}
	watcher.SetPollTimeout(r.pollTimeout)
	logger.Info("joined matrix sync room", "room_id", roomID, "user_id", r.matrix.UserID())
	r.session.Ready()

	for {
		events, err := watcher.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.session.Fail(err)
			}
			return
		}
		for _, matrixEvent := range events {
			if matrixEvent.Type != EventType {
				continue
			}
			var content Content
			if err := json.Unmarshal(matrixEvent.Content, &content); err != nil || content.Payload == "" {
				logger.Debug("ignoring malformed sync event", "event_id", matrixEvent.EventID)
				continue
			}
			if content.Origin == r.session.Codec().Origin() {
				continue
			}
			r.session.ReceiveText(content.Payload)
		}
	}
}

// send is the outbox writer. Events published before the room is
// joined wait for it.
func (r *roomSession) send(ctx context.Context, ev event.Event) error {
	select {
	case <-r.joined:
	case <-ctx.Done():
		return ctx.Err()
	}
	payload, err := r.session.Codec().PackText(ev)
	if err != nil {
		return err
	}
	_, err = r.matrix.SendEvent(ctx, r.roomID, EventType, Content{
		Origin:  r.session.Codec().Origin(),
		Payload: payload,
	})
	return err
}

// logout invalidates a token this session created itself. The session
// context is already cancelled, so it uses its own deadline.
func (r *roomSession) logout(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()
	if err := r.matrix.Logout(ctx); err != nil {
		logger.Debug("matrix logout failed", "error", err)
	}
}
