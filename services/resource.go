// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/netutil"
)

// ResourceConfig configures the Resource service.
type ResourceConfig struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxBytes   int64
	Logger     *slog.Logger
}

// Resource fetches external course resources (scripts, styles, data
// files) on behalf of the engine.
type Resource struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	logger   *slog.Logger
	send     event.Send
}

// NewResource returns a Resource service.
func NewResource(cfg ResourceConfig) *Resource {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	return &Resource{
		client:   client,
		timeout:  cfg.Timeout,
		maxBytes: maxBytes,
		logger:   discardLogger(cfg.Logger),
	}
}

func (r *Resource) Topic() event.Topic { return event.Resource }

func (r *Resource) Init(send event.Send, _ connector.Connector) error {
	r.send = send
	return nil
}

// Fetched is the param of a load answer. Data is base64 when the body
// is not UTF-8.
type Fetched struct {
	OK          bool   `json:"ok"`
	URL         string `json:"url"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Data        string `json:"data,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (r *Resource) Handle(ctx context.Context, ev event.Event) error {
	if r.send == nil {
		return ErrNotInitialized
	}
	if ev.Message.Cmd != "load" {
		return unknownCommand(ev)
	}
	var param struct {
		URL string `json:"url"`
	}
	if err := ev.Message.Decode(&param); err != nil {
		return err
	}
	target, err := url.Parse(param.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		reply(r.send, r.logger, ev, Fetched{URL: param.URL, Error: "only http and https resources can be loaded"})
		return nil
	}
	go func() {
		reply(r.send, r.logger, ev, r.fetch(ctx, target.String()))
	}()
	return nil
}

func (r *Resource) fetch(ctx context.Context, target string) Fetched {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	result := Fetched{URL: target}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	response, err := r.client.Do(request)
	if err != nil {
		r.logger.Warn("resource fetch failed", "url", target, "error", err)
		result.Error = err.Error()
		return result
	}
	defer response.Body.Close()

	result.Status = response.StatusCode
	result.ContentType = response.Header.Get("Content-Type")
	if response.StatusCode < 200 || response.StatusCode > 299 {
		result.Error = fmt.Sprintf("HTTP %d: %s", response.StatusCode, netutil.ErrorBody(response.Body))
		return result
	}
	data, err := netutil.ReadLimited(response.Body, r.maxBytes)
	if err != nil {
		r.logger.Warn("resource fetch failed", "url", target, "error", err)
		result.Error = err.Error()
		return result
	}
	result.OK = true
	if utf8.Valid(data) {
		result.Data = string(data)
	} else {
		result.Data = base64.StdEncoding.EncodeToString(data)
		result.Encoding = "base64"
	}
	r.logger.Debug("resource loaded", "url", target, "bytes", len(data))
	return result
}
