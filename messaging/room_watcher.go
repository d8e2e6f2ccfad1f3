// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// SyncFilter configures what events a RoomWatcher receives from /sync.
// The watched room is always included automatically.
type SyncFilter struct {
	// TimelineTypes restricts timeline events to these Matrix event types.
	// An empty slice means all timeline types.
	TimelineTypes []string

	// TimelineLimit caps the number of timeline events per /sync response.
	// Zero means no explicit limit (server default).
	TimelineLimit int
}

// buildInlineFilter constructs the inline JSON filter string for /sync.
// The filter always scopes to the given room and suppresses state,
// presence and account data.
func buildInlineFilter(roomID string, filter *SyncFilter) string {
	roomFilter := map[string]any{
		"rooms": []string{roomID},
		"state": map[string]any{"types": []string{}},
	}

	if filter != nil {
		timeline := map[string]any{}
		if len(filter.TimelineTypes) > 0 {
			timeline["types"] = filter.TimelineTypes
		}
		if filter.TimelineLimit > 0 {
			timeline["limit"] = filter.TimelineLimit
		}
		if len(timeline) > 0 {
			roomFilter["timeline"] = timeline
		}
	}

	top := map[string]any{
		"room":         roomFilter,
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}

	data, _ := json.Marshal(top)
	return string(data)
}

// maxSyncRetries is the number of consecutive /sync failures allowed
// before Next returns an error. Each retry uses a 1-second server-side
// timeout so the HTTP round-trip itself provides backoff.
const maxSyncRetries = 5

// LongPollTimeout is the server-side long-poll hold time in
// milliseconds for normal /sync calls.
const LongPollTimeout = 30000

// retryTimeout is the server-side timeout in milliseconds used after
// a /sync error.
const retryTimeout = 1000

// RoomWatcher captures a position in the Matrix /sync stream for a
// specific room and returns the timeline events arriving after it.
//
// All waiting uses Matrix /sync long-polling: the server holds the
// connection until new events arrive, then returns immediately. There
// is no client-side polling interval.
//
// RoomWatcher is not safe for concurrent use by multiple goroutines.
type RoomWatcher struct {
	session     *Session
	roomID      string
	filter      string
	nextBatch   string
	pollTimeout int
	logger      *slog.Logger
}

// WatchRoom captures the current position in the Matrix /sync stream.
// The returned RoomWatcher only sees events arriving after this call.
// The initial /sync uses timeout=0 so it never blocks.
func WatchRoom(ctx context.Context, session *Session, roomID string, filter *SyncFilter, logger *slog.Logger) (*RoomWatcher, error) {
	if roomID == "" {
		return nil, fmt.Errorf("messaging: WatchRoom requires a room ID")
	}
	if logger == nil {
		logger = slog.Default()
	}
	inlineFilter := buildInlineFilter(roomID, filter)
	response, err := session.Sync(ctx, SyncOptions{
		SetTimeout: true,
		Timeout:    0,
		Filter:     inlineFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: initial sync for room watch: %w", err)
	}
	return &RoomWatcher{
		session:     session,
		roomID:      roomID,
		filter:      inlineFilter,
		nextBatch:   response.NextBatch,
		pollTimeout: LongPollTimeout,
		logger:      logger,
	}, nil
}

// SetPollTimeout overrides the server-side long-poll hold in
// milliseconds.
func (w *RoomWatcher) SetPollTimeout(milliseconds int) {
	w.pollTimeout = milliseconds
}

// Next blocks until at least one timeline event arrives in the watched
// room and returns all events of that batch, in server order. On
// transient /sync errors it retries up to 5 times and resets idle
// connections between attempts.
func (w *RoomWatcher) Next(ctx context.Context) ([]Event, error) {
	var syncRetries int

	for {
		syncTimeout := w.pollTimeout
		if syncRetries > 0 {
			syncTimeout = retryTimeout
		}
		response, err := w.session.Sync(ctx, SyncOptions{
			Since:      w.nextBatch,
			SetTimeout: true,
			Timeout:    syncTimeout,
			Filter:     w.filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("messaging: watching room %s: %w", w.roomID, ctx.Err())
			}
			syncRetries++
			// TCP-level errors (connection reset, EOF) often indicate
			// a poisoned connection in Go's HTTP pool.
			w.session.CloseIdleConnections()
			if syncRetries > maxSyncRetries {
				return nil, fmt.Errorf("messaging: sync failed %d consecutive times in room %s: %w",
					syncRetries, w.roomID, err)
			}
			w.logger.Debug("room watcher sync error, retrying",
				"room_id", w.roomID,
				"attempt", syncRetries,
				"max_attempts", maxSyncRetries,
				"error", err,
			)
			continue
		}
		syncRetries = 0
		w.nextBatch = response.NextBatch

		joined, ok := response.Rooms.Join[w.roomID]
		if !ok || len(joined.Timeline.Events) == 0 {
			continue
		}
		return joined.Timeline.Events, nil
	}
}

// SyncPosition returns the current sync stream position token.
func (w *RoomWatcher) SyncPosition() string {
	return w.nextBatch
}

// RoomID returns the room being watched.
func (w *RoomWatcher) RoomID() string {
	return w.roomID
}
