// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
)

// Database exposes the connector to the engine: per-course records,
// the course index, user settings and the script key/value store.
type Database struct {
	logger *slog.Logger
	send   event.Send
	conn   connector.Connector
}

// NewDatabase returns an uninitialized Database service.
func NewDatabase(logger *slog.Logger) *Database {
	return &Database{logger: discardLogger(logger)}
}

func (d *Database) Topic() event.Topic { return event.Database }

// Init fails without a connector: nothing could be stored.
func (d *Database) Init(send event.Send, conn connector.Connector) error {
	if conn == nil {
		return errors.New("no connector")
	}
	d.send = send
	d.conn = conn
	return nil
}

type openParam struct {
	UID     string `json:"uid"`
	Version int    `json:"version"`
	Slide   *int   `json:"slide"`
}

type indexParam struct {
	UID     string `json:"id"`
	Version *int   `json:"version"`
}

func (p indexParam) version() int {
	if p.Version == nil {
		return connector.LatestVersion
	}
	return *p.Version
}

type storageParam struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (d *Database) Handle(ctx context.Context, ev event.Event) error {
	if d.conn == nil {
		return ErrNotInitialized
	}
	switch ev.Message.Cmd {
	case "open":
		var param openParam
		if err := ev.Message.Decode(&param); err != nil {
			return err
		}
		if param.UID == "" {
			return errors.New("database: open without uid")
		}
		slide := -1
		if param.Slide != nil {
			slide = *param.Slide
		}
		if err := d.conn.Open(ctx, param.UID, param.Version, slide); err != nil {
			return fmt.Errorf("database: opening %s@%d: %w", param.UID, param.Version, err)
		}
		return nil

	case "load":
		data, err := d.conn.Load(ctx, ev)
		if err != nil {
			return fmt.Errorf("database: load: %w", err)
		}
		reply(d.send, d.logger, ev, data)
		return nil

	case "store":
		if err := d.conn.Store(ctx, ev); err != nil {
			return fmt.Errorf("database: store: %w", err)
		}
		return nil

	case "update":
		record, err := connector.RecordOf(ev)
		if err != nil {
			return err
		}
		if err := d.conn.Update(ctx, ev, record.ID); err != nil {
			return fmt.Errorf("database: update %s/%d: %w", record.Table, record.ID, err)
		}
		return nil

	case "settings":
		if len(ev.Message.Param) == 0 {
			settings, err := d.conn.Settings(ctx)
			if err != nil {
				return fmt.Errorf("database: reading settings: %w", err)
			}
			reply(d.send, d.logger, ev, settings)
			return nil
		}
		if err := d.conn.SaveSettings(ctx, ev.Message.Param); err != nil {
			return fmt.Errorf("database: saving settings: %w", err)
		}
		return nil

	case "index_list":
		entries, err := d.conn.ListIndex(ctx)
		if err != nil {
			return fmt.Errorf("database: listing index: %w", err)
		}
		if entries == nil {
			entries = []connector.IndexEntry{}
		}
		reply(d.send, d.logger, ev, entries)
		return nil

	case "index_get":
		var param indexParam
		if err := ev.Message.Decode(&param); err != nil {
			return err
		}
		entry, err := d.conn.GetIndex(ctx, param.UID)
		if errors.Is(err, connector.ErrNotFound) {
			reply(d.send, d.logger, ev, nil)
			return nil
		}
		if err != nil {
			return fmt.Errorf("database: index entry %s: %w", param.UID, err)
		}
		reply(d.send, d.logger, ev, entry)
		return nil

	case "index_store":
		var entry connector.IndexEntry
		if err := ev.Message.Decode(&entry); err != nil {
			return err
		}
		if entry.UID == "" {
			return errors.New("database: index_store without id")
		}
		return d.conn.StoreIndex(ctx, entry)

	case "index_delete":
		var param indexParam
		if err := ev.Message.Decode(&param); err != nil {
			return err
		}
		return d.conn.DeleteIndex(ctx, param.UID)

	case "index_restore":
		var param indexParam
		if err := ev.Message.Decode(&param); err != nil {
			return err
		}
		entry, err := d.conn.Restore(ctx, param.UID, param.version())
		if err != nil {
			return fmt.Errorf("database: restoring %s: %w", param.UID, err)
		}
		reply(d.send, d.logger, ev, entry)
		return nil

	case "index_reset":
		var param indexParam
		if err := ev.Message.Decode(&param); err != nil {
			return err
		}
		return d.conn.Reset(ctx, param.UID, param.version())

	case "storage_get":
		var param storageParam
		if err := ev.Message.Decode(&param); err != nil {
			return err
		}
		value, found, err := d.conn.Storage().Get(ctx, param.Key)
		if err != nil {
			return fmt.Errorf("database: storage %q: %w", param.Key, err)
		}
		if !found {
			value = json.RawMessage("null")
		}
		reply(d.send, d.logger, ev, storageParam{Key: param.Key, Value: value})
		return nil

	case "storage_set":
		var param storageParam
		if err := ev.Message.Decode(&param); err != nil {
			return err
		}
		if param.Key == "" {
			return errors.New("database: storage_set without key")
		}
		if len(param.Value) == 0 {
			param.Value = json.RawMessage("null")
		}
		return d.conn.Storage().Set(ctx, param.Key, param.Value)
	}
	return unknownCommand(ev)
}
