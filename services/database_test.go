// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
)

func newDatabase(t *testing.T) (*Database, *outbox) {
	t.Helper()
	conn, err := connector.OpenSQLite(connector.SQLiteConfig{Path: filepath.Join(t.TempDir(), "lia.db")})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	out := newOutbox()
	database := NewDatabase(nil)
	if err := database.Init(out.send, conn); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return database, out
}

func handle(t *testing.T, service interface {
	Handle(context.Context, event.Event) error
}, ev event.Event) {
	t.Helper()
	if err := service.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle(%s): %v", ev, err)
	}
}

func TestDatabaseRequiresConnector(t *testing.T) {
	if err := NewDatabase(nil).Init(func(event.Event) {}, nil); err == nil {
		t.Fatal("Init without connector succeeded")
	}
	err := NewDatabase(nil).Handle(context.Background(), request(event.Database, "load", `{"table":"quiz","id":0}`))
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Handle before Init: %v", err)
	}
}

func TestDatabaseRecords(t *testing.T) {
	database, out := newDatabase(t)
	handle(t, database, request(event.Database, "open", `{"uid":"course-a","version":2}`))
	handle(t, database, request(event.Database, "store", `{"table":"quiz","id":3,"data":{"solved":0,"trial":2}}`))
	handle(t, database, request(event.Database, "update", `{"table":"quiz","id":3,"data":{"solved":1}}`))

	track := event.Step{Topic: "quiz", ID: 3}
	handle(t, database, request(event.Database, "load", `{"table":"quiz","id":3}`, track))
	answer := out.next(t, "load answer")
	if !answer.Reply || answer.Message.Cmd != "load" || len(answer.Track) != 1 || answer.Track[0] != track {
		t.Errorf("answer = %+v", answer)
	}
	state := decodeParam[map[string]int](t, answer)
	if state["solved"] != 1 || state["trial"] != 2 {
		t.Errorf("state = %v", state)
	}

	handle(t, database, request(event.Database, "index_reset", `{"id":"course-a"}`))
	handle(t, database, request(event.Database, "load", `{"table":"quiz","id":3}`))
	if got := string(out.next(t, "load after reset").Message.Param); got != "null" {
		t.Errorf("record after reset = %s", got)
	}
}

func TestDatabaseIndex(t *testing.T) {
	database, out := newDatabase(t)
	handle(t, database, request(event.Database, "open", `{"uid":"course-a","version":1,"slide":4}`))
	handle(t, database, request(event.Database, "index_store", `{"id":"course-b","version":1,"title":"Second"}`))

	handle(t, database, request(event.Database, "index_list", ""))
	entries := decodeParam[[]connector.IndexEntry](t, out.next(t, "index list"))
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}

	handle(t, database, request(event.Database, "index_restore", `{"id":"course-a"}`))
	restored := decodeParam[connector.IndexEntry](t, out.next(t, "restore answer"))
	if restored.UID != "course-a" || restored.Slide != 4 {
		t.Errorf("restored = %+v", restored)
	}

	handle(t, database, request(event.Database, "index_delete", `{"id":"course-b"}`))
	handle(t, database, request(event.Database, "index_get", `{"id":"course-b"}`))
	if param := out.next(t, "get of deleted entry").Message.Param; len(param) != 0 {
		t.Errorf("deleted entry answered %s", param)
	}
}

func TestDatabaseSettingsAndStorage(t *testing.T) {
	database, out := newDatabase(t)

	handle(t, database, request(event.Database, "settings", ""))
	if got := string(out.next(t, "default settings").Message.Param); got != "{}" {
		t.Errorf("default settings = %s", got)
	}
	handle(t, database, request(event.Database, "settings", `{"mode":"textbook","theme":"dark"}`))
	handle(t, database, request(event.Database, "settings", ""))
	settings := decodeParam[map[string]string](t, out.next(t, "saved settings"))
	if settings["mode"] != "textbook" {
		t.Errorf("settings = %v", settings)
	}

	handle(t, database, request(event.Database, "storage_get", `{"key":"score"}`))
	missing := decodeParam[storageParam](t, out.next(t, "missing key"))
	if string(missing.Value) != "null" {
		t.Errorf("missing key value = %s", missing.Value)
	}
	handle(t, database, request(event.Database, "storage_set", `{"key":"score","value":[1,2]}`))
	handle(t, database, request(event.Database, "storage_get", `{"key":"score"}`))
	stored := decodeParam[storageParam](t, out.next(t, "stored key"))
	if stored.Key != "score" || string(stored.Value) != "[1,2]" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestDatabaseErrors(t *testing.T) {
	database, _ := newDatabase(t)
	ctx := context.Background()

	if err := database.Handle(ctx, request(event.Database, "load", `{"table":"quiz","id":1}`)); !errors.Is(err, connector.ErrNotOpen) {
		t.Errorf("load before open: %v", err)
	}
	if err := database.Handle(ctx, request(event.Database, "drop_tables", "")); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command: %v", err)
	}
	if err := database.Handle(ctx, request(event.Database, "open", `{"version":1}`)); err == nil {
		t.Error("open without uid accepted")
	}
}
