// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package connector is the persistence side of liaport: course state
// (quiz answers, code edits, survey results), the index of known
// courses, user settings and a small key/value store for course
// scripts.
//
// Services see only the [Connector] interface. [SQLite] is the
// implementation used by the liaport binary.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/liaport/event"
)

var (
	// ErrNotOpen is returned by course-scoped operations before Open.
	ErrNotOpen = errors.New("connector: no course is open")

	// ErrNotFound is returned when an index entry does not exist.
	ErrNotFound = errors.New("connector: course not found in index")
)

// LatestVersion selects the highest stored version in Restore and
// every version in Reset.
const LatestVersion = -1

// Connector is consumed by the router (slide tracking), the database
// service and the engine shell.
type Connector interface {
	// Settings returns the stored user settings, or {} if none.
	Settings(ctx context.Context) (json.RawMessage, error)
	SaveSettings(ctx context.Context, settings json.RawMessage) error

	// HasIndex reports whether ListIndex and friends are backed by
	// real storage.
	HasIndex() bool

	// Storage is the key/value store exposed to course scripts.
	Storage() Storage

	// Open makes (uid, version) the current course, creating its
	// index entry if needed, and records slide when slide >= 0.
	Open(ctx context.Context, uid string, version, slide int) error

	// Slide records the current slide of the open course.
	Slide(ctx context.Context, id int) error

	// Load returns the record addressed by the event's param
	// ({"table": ..., "id": ...}), or JSON null if none is stored.
	Load(ctx context.Context, ev event.Event) (json.RawMessage, error)

	// Store replaces the record addressed by the event's param with
	// param.data.
	Store(ctx context.Context, ev event.Event) error

	// Update merges the object in param.data into record id of
	// param.table.
	Update(ctx context.Context, ev event.Event, id int) error

	ListIndex(ctx context.Context) ([]IndexEntry, error)
	GetIndex(ctx context.Context, uid string) (IndexEntry, error)
	StoreIndex(ctx context.Context, entry IndexEntry) error
	DeleteIndex(ctx context.Context, uid string) error

	// Restore opens a stored course at its last recorded slide and
	// returns its entry.
	Restore(ctx context.Context, uid string, version int) (IndexEntry, error)

	// Reset drops the stored records of a course. An empty uid means
	// the open course.
	Reset(ctx context.Context, uid string, version int) error
}

// Scoped is a Connector that can hand out views over the same storage,
// each with its own open course. Every engine session works on its own
// view.
type Scoped interface {
	Connector
	Scope() Connector
}

// Storage is a flat JSON key/value store.
type Storage interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
}

// IndexEntry describes one stored course version.
type IndexEntry struct {
	UID     string          `json:"id"`
	Version int             `json:"version"`
	Title   string          `json:"title,omitempty"`
	Meta    json.RawMessage `json:"meta,omitempty"`
	Slide   int             `json:"slide"`
	Updated time.Time       `json:"updated"`
}

// Record is the param of load/store/update events.
type Record struct {
	Table string          `json:"table"`
	ID    int             `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RecordOf extracts the Record from a database event.
func RecordOf(ev event.Event) (Record, error) {
	var record Record
	if err := ev.Message.Decode(&record); err != nil {
		return Record{}, err
	}
	if record.Table == "" {
		return Record{}, fmt.Errorf("connector: %s event has no table", ev.Message.Cmd)
	}
	return record, nil
}
