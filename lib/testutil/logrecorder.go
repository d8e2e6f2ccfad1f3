// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// Record is a captured log line: level, message and flattened
// attributes.
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogRecorder captures records for later inspection. Use
// [LogRecorder.Logger] to obtain a logger writing into it.
type LogRecorder struct {
	mu      sync.Mutex
	records []Record
}

// NewLogRecorder returns an empty recorder.
func NewLogRecorder() *LogRecorder { return &LogRecorder{} }

// Logger returns a logger that records at every level.
func (r *LogRecorder) Logger() *slog.Logger {
	return slog.New(&recordingHandler{recorder: r})
}

// Records returns a copy of everything logged so far.
func (r *LogRecorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Count returns how many records have the given message.
func (r *LogRecorder) Count(message string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, record := range r.records {
		if record.Message == message {
			count++
		}
	}
	return count
}

// Find returns the first record with the given message.
func (r *LogRecorder) Find(message string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.Message == message {
			return record, true
		}
	}
	return Record{}, false
}

type recordingHandler struct {
	recorder *LogRecorder
	attrs    []slog.Attr
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, record slog.Record) error {
	captured := Record{Level: record.Level, Message: record.Message, Attrs: make(map[string]any)}
	for _, attr := range h.attrs {
		captured.Attrs[attr.Key] = attr.Value.Any()
	}
	record.Attrs(func(attr slog.Attr) bool {
		captured.Attrs[attr.Key] = attr.Value.Any()
		return true
	})
	h.recorder.mu.Lock()
	h.recorder.records = append(h.recorder.records, captured)
	h.recorder.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{recorder: h.recorder, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

// Groups are flattened; no test here relies on them.
func (h *recordingHandler) WithGroup(string) slog.Handler { return h }
