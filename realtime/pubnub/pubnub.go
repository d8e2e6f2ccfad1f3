// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pubnub implements the pubnub sync backend over the PubNub
// REST API: a /time call to obtain the initial timetoken, one
// /publish request per event, and a long-polling /v2/subscribe loop.
package pubnub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/clock"
	"github.com/bureau-foundation/liaport/lib/netutil"
	"github.com/bureau-foundation/liaport/realtime"
)

// DefaultOrigin is the PubNub edge used when the config names none.
const DefaultOrigin = "https://ps.pndsn.com"

// subscribeTimeout bounds one long-poll; PubNub holds subscribe
// requests for up to 280 seconds.
const subscribeTimeout = 310 * time.Second

// retryDelay is the pause after a failed subscribe request.
const retryDelay = 2 * time.Second

// Config is the backend config the engine sends with connect.
type Config struct {
	PublishKey   string `json:"publishKey"`
	SubscribeKey string `json:"subscribeKey"`
	Channel      string `json:"channel"`
	Origin       string `json:"origin"`

	realtime.Options
}

// Options configures the adapter itself.
type Options struct {
	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Adapter is the pubnub realtime.Adapter.
type Adapter struct {
	realtime.Slot

	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
}

var _ realtime.Adapter = (*Adapter)(nil)

// New returns an unconnected adapter.
func New(options Options) *Adapter {
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{Timeout: subscribeTimeout}
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		httpClient: options.HTTPClient,
		clock:      options.Clock,
		logger:     options.Logger,
	}
}

// Factory adapts New to realtime.Factory.
func Factory(options Options) realtime.Factory {
	return func() realtime.Adapter { return New(options) }
}

// ParseConfig decodes and validates a backend config.
func ParseConfig(raw json.RawMessage) (Config, error) {
	var cfg Config
	if len(raw) == 0 {
		return Config{}, errors.New("pubnub: config is required")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("pubnub: config: %w", err)
	}
	if cfg.PublishKey == "" || cfg.SubscribeKey == "" {
		return Config{}, errors.New("pubnub: publishKey and subscribeKey are required")
	}
	if cfg.Channel == "" {
		return Config{}, errors.New("pubnub: channel is required")
	}
	if cfg.Origin == "" {
		cfg.Origin = DefaultOrigin
	}
	cfg.Origin = strings.TrimRight(cfg.Origin, "/")
	if _, err := realtime.ParseOptions(raw); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Connect validates config and starts the session in the background.
func (a *Adapter) Connect(ctx context.Context, raw json.RawMessage, callbacks realtime.Callbacks) error {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return err
	}
	client := &client{
		http:   a.httpClient,
		config: cfg,
		uuid:   uuid.NewString(),
	}
	session := realtime.NewSession(ctx, realtime.SessionConfig{
		Backend:   realtime.Pubnub,
		Origin:    client.uuid,
		Options:   cfg.Options,
		Callbacks: callbacks,
		Write: func(ctx context.Context, ev event.Event) error {
			return client.publish(ctx, ev)
		},
		Clock:  a.clock,
		Logger: a.logger,
	})
	client.session = session
	a.Set(session)
	go client.run(a.clock)
	return nil
}

type client struct {
	http    *http.Client
	config  Config
	uuid    string
	session *realtime.Session
}

// run fetches the initial timetoken, reports ready, then subscribes
// until the session ends.
func (c *client) run(clk clock.Clock) {
	ctx := c.session.Context()
	logger := c.session.Logger()

	timetoken, err := c.time(ctx)
	if err != nil {
		c.session.Fail(err)
		return
	}
	c.session.Ready()

	region := ""
	for ctx.Err() == nil {
		next, nextRegion, messages, err := c.subscribe(ctx, timetoken, region)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var status *statusError
			if errors.As(err, &status) && (status.code == http.StatusForbidden || status.code == http.StatusBadRequest) {
				c.session.Fail(err)
				return
			}
			logger.Warn("pubnub subscribe failed, retrying", "error", err, "delay", retryDelay)
			select {
			case <-ctx.Done():
				return
			case <-clk.After(retryDelay):
			}
			continue
		}
		timetoken, region = next, nextRegion
		for _, message := range messages {
			if message.Channel != "" && message.Channel != c.config.Channel {
				continue
			}
			var payload string
			if err := json.Unmarshal(message.Data, &payload); err != nil {
				logger.Debug("ignoring non-string pubnub message", "publisher", message.Publisher)
				continue
			}
			c.session.ReceiveText(payload)
		}
	}
}

// statusError is a non-2xx answer from PubNub.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("pubnub: status %d: %s", e.code, e.body)
}

func (c *client) get(ctx context.Context, path string, query url.Values, into any) error {
	requestURL := c.config.Origin + path
	if query == nil {
		query = url.Values{}
	}
	query.Set("uuid", c.uuid)
	requestURL += "?" + query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("pubnub: building request: %w", err)
	}
	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("pubnub: GET %s: %w", path, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &statusError{code: response.StatusCode, body: netutil.ErrorBody(response.Body)}
	}
	if err := netutil.DecodeResponse(response.Body, into); err != nil {
		return fmt.Errorf("pubnub: GET %s: %w", path, err)
	}
	return nil
}

// time returns the current PubNub timetoken.
func (c *client) time(ctx context.Context) (string, error) {
	var response []json.Number
	if err := c.get(ctx, "/time/0", nil, &response); err != nil {
		return "", err
	}
	if len(response) != 1 {
		return "", fmt.Errorf("pubnub: unexpected time response %v", response)
	}
	return response[0].String(), nil
}

type subscribeResponse struct {
	Cursor struct {
		Timetoken string `json:"t"`
		Region    int    `json:"r"`
	} `json:"t"`
	Messages []subscribeMessage `json:"m"`
}

type subscribeMessage struct {
	Channel   string          `json:"c"`
	Publisher string          `json:"i"`
	Data      json.RawMessage `json:"d"`
}

// subscribe long-polls for messages after timetoken.
func (c *client) subscribe(ctx context.Context, timetoken, region string) (string, string, []subscribeMessage, error) {
	path := fmt.Sprintf("/v2/subscribe/%s/%s/0",
		url.PathEscape(c.config.SubscribeKey),
		url.PathEscape(c.config.Channel),
	)
	query := url.Values{"tt": {timetoken}}
	if region != "" {
		query.Set("tr", region)
	}
	var response subscribeResponse
	if err := c.get(ctx, path, query, &response); err != nil {
		return "", "", nil, err
	}
	if response.Cursor.Timetoken == "" {
		return "", "", nil, errors.New("pubnub: subscribe response without timetoken")
	}
	return response.Cursor.Timetoken, strconv.Itoa(response.Cursor.Region), response.Messages, nil
}

// publish sends one event as a base64 envelope string.
func (c *client) publish(ctx context.Context, ev event.Event) error {
	text, err := c.session.Codec().PackText(ev)
	if err != nil {
		return err
	}
	message, err := json.Marshal(text)
	if err != nil {
		return fmt.Errorf("pubnub: encoding message: %w", err)
	}
	path := fmt.Sprintf("/publish/%s/%s/0/%s/0/%s",
		url.PathEscape(c.config.PublishKey),
		url.PathEscape(c.config.SubscribeKey),
		url.PathEscape(c.config.Channel),
		url.PathEscape(string(message)),
	)
	var response []json.RawMessage
	if err := c.get(ctx, path, nil, &response); err != nil {
		return err
	}
	if len(response) < 2 || string(response[0]) != "1" {
		return fmt.Errorf("pubnub: publish rejected: %s", joinRaw(response))
	}
	return nil
}

func joinRaw(parts []json.RawMessage) string {
	strs := make([]string, len(parts))
	for i, part := range parts {
		strs[i] = string(part)
	}
	return "[" + strings.Join(strs, ",") + "]"
}
