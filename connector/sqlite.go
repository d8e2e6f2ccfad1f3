// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/clock"
	"github.com/bureau-foundation/liaport/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS storage (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS courses (
	uid     TEXT NOT NULL,
	version INTEGER NOT NULL,
	title   TEXT NOT NULL DEFAULT '',
	meta    TEXT,
	slide   INTEGER NOT NULL DEFAULT 0,
	updated INTEGER NOT NULL,
	PRIMARY KEY (uid, version)
);
CREATE TABLE IF NOT EXISTS records (
	uid     TEXT NOT NULL,
	version INTEGER NOT NULL,
	tbl     TEXT NOT NULL,
	id      INTEGER NOT NULL,
	data    TEXT NOT NULL,
	PRIMARY KEY (uid, version, tbl, id),
	FOREIGN KEY (uid, version) REFERENCES courses (uid, version) ON DELETE CASCADE
);
`

// SQLiteConfig configures OpenSQLite.
type SQLiteConfig struct {
	Path   string
	Clock  clock.Clock
	Logger *slog.Logger
}

// SQLite is a Connector on a local SQLite database.
type SQLite struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger

	// course is the open course of this view. Views returned by Scope
	// share the pool and nothing else.
	course *openCourse
}

type openCourse struct {
	mu      sync.Mutex
	current *courseKey
}

type courseKey struct {
	uid     string
	version int
}

var _ Scoped = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Schema: schema,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connector: %w", err)
	}
	return &SQLite{pool: pool, clock: cfg.Clock, logger: logger, course: &openCourse{}}, nil
}

// Scope returns a view of the same database with no course open.
// Closing the database is left to the SQLite returned by OpenSQLite.
func (s *SQLite) Scope() Connector {
	return &SQLite{pool: s.pool, clock: s.clock, logger: s.logger, course: &openCourse{}}
}

// Close releases the database.
func (s *SQLite) Close() error { return s.pool.Close() }

func (s *SQLite) HasIndex() bool { return true }

func (s *SQLite) Storage() Storage { return sqliteStorage{s} }

func (s *SQLite) Settings(ctx context.Context) (json.RawMessage, error) {
	settings := json.RawMessage(`{}`)
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT body FROM settings WHERE id = 1", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				settings = json.RawMessage(stmt.ColumnText(0))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("connector: settings: %w", err)
	}
	return settings, nil
}

func (s *SQLite) SaveSettings(ctx context.Context, settings json.RawMessage) error {
	if !json.Valid(settings) {
		return fmt.Errorf("connector: settings are not valid JSON")
	}
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"INSERT INTO settings (id, body) VALUES (1, ?) ON CONFLICT (id) DO UPDATE SET body = excluded.body",
			&sqlitex.ExecOptions{Args: []any{string(settings)}})
	})
	if err != nil {
		return fmt.Errorf("connector: saving settings: %w", err)
	}
	return nil
}

func (s *SQLite) Open(ctx context.Context, uid string, version, slide int) error {
	if uid == "" {
		return fmt.Errorf("connector: open: empty course id")
	}
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		if err := s.touchCourse(conn, uid, version); err != nil {
			return err
		}
		if slide < 0 {
			return nil
		}
		return sqlitex.Execute(conn, "UPDATE courses SET slide = ? WHERE uid = ? AND version = ?",
			&sqlitex.ExecOptions{Args: []any{slide, uid, version}})
	})
	if err != nil {
		return fmt.Errorf("connector: open %s@%d: %w", uid, version, err)
	}

	s.course.mu.Lock()
	s.course.current = &courseKey{uid: uid, version: version}
	s.course.mu.Unlock()
	s.logger.Info("course opened", "uid", uid, "version", version, "slide", slide)
	return nil
}

func (s *SQLite) Slide(ctx context.Context, id int) error {
	key, err := s.open()
	if err != nil {
		return err
	}
	err = s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "UPDATE courses SET slide = ?, updated = ? WHERE uid = ? AND version = ?",
			&sqlitex.ExecOptions{Args: []any{id, s.clock.Now().UnixMilli(), key.uid, key.version}})
	})
	if err != nil {
		return fmt.Errorf("connector: slide: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, ev event.Event) (json.RawMessage, error) {
	key, err := s.open()
	if err != nil {
		return nil, err
	}
	record, err := RecordOf(ev)
	if err != nil {
		return nil, err
	}
	data := json.RawMessage("null")
	err = s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT data FROM records WHERE uid = ? AND version = ? AND tbl = ? AND id = ?",
			&sqlitex.ExecOptions{
				Args: []any{key.uid, key.version, record.Table, record.ID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					data = json.RawMessage(stmt.ColumnText(0))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("connector: load %s/%d: %w", record.Table, record.ID, err)
	}
	return data, nil
}

func (s *SQLite) Store(ctx context.Context, ev event.Event) error {
	key, err := s.open()
	if err != nil {
		return err
	}
	record, err := RecordOf(ev)
	if err != nil {
		return err
	}
	if len(record.Data) == 0 || !json.Valid(record.Data) {
		return fmt.Errorf("connector: store %s/%d: data missing or invalid", record.Table, record.ID)
	}
	err = s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return s.putRecord(conn, key, record.Table, record.ID, record.Data)
	})
	if err != nil {
		return fmt.Errorf("connector: store %s/%d: %w", record.Table, record.ID, err)
	}
	return nil
}

func (s *SQLite) Update(ctx context.Context, ev event.Event, id int) (err error) {
	key, err := s.open()
	if err != nil {
		return err
	}
	record, err := RecordOf(ev)
	if err != nil {
		return err
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(record.Data, &patch); err != nil {
		return fmt.Errorf("connector: update %s/%d: data must be an object: %w", record.Table, id, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("connector: update: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("connector: update: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	current := make(map[string]json.RawMessage)
	err = sqlitex.Execute(conn,
		"SELECT data FROM records WHERE uid = ? AND version = ? AND tbl = ? AND id = ?",
		&sqlitex.ExecOptions{
			Args: []any{key.uid, key.version, record.Table, id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				return json.Unmarshal([]byte(stmt.ColumnText(0)), &current)
			},
		})
	if err != nil {
		return fmt.Errorf("connector: update %s/%d: reading: %w", record.Table, id, err)
	}
	for field, value := range patch {
		current[field] = value
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("connector: update %s/%d: %w", record.Table, id, err)
	}
	if err = s.putRecord(conn, key, record.Table, id, merged); err != nil {
		return fmt.Errorf("connector: update %s/%d: %w", record.Table, id, err)
	}
	return nil
}

func (s *SQLite) ListIndex(ctx context.Context) ([]IndexEntry, error) {
	var entries []IndexEntry
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT uid, version, title, meta, slide, updated FROM courses ORDER BY updated DESC, uid, version DESC",
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				entries = append(entries, scanEntry(stmt))
				return nil
			}})
	})
	if err != nil {
		return nil, fmt.Errorf("connector: list index: %w", err)
	}
	return entries, nil
}

func (s *SQLite) GetIndex(ctx context.Context, uid string) (IndexEntry, error) {
	return s.lookup(ctx, uid, LatestVersion)
}

func (s *SQLite) StoreIndex(ctx context.Context, entry IndexEntry) error {
	if entry.UID == "" {
		return fmt.Errorf("connector: store index: empty course id")
	}
	var meta any
	if len(entry.Meta) > 0 {
		meta = string(entry.Meta)
	}
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO courses (uid, version, title, meta, slide, updated) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (uid, version) DO UPDATE SET title = excluded.title, meta = excluded.meta, updated = excluded.updated`,
			&sqlitex.ExecOptions{Args: []any{
				entry.UID, entry.Version, entry.Title, meta, entry.Slide, s.clock.Now().UnixMilli(),
			}})
	})
	if err != nil {
		return fmt.Errorf("connector: store index %s: %w", entry.UID, err)
	}
	return nil
}

func (s *SQLite) DeleteIndex(ctx context.Context, uid string) error {
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "DELETE FROM courses WHERE uid = ?", &sqlitex.ExecOptions{Args: []any{uid}})
	})
	if err != nil {
		return fmt.Errorf("connector: delete index %s: %w", uid, err)
	}

	s.course.mu.Lock()
	if s.course.current != nil && s.course.current.uid == uid {
		s.course.current = nil
	}
	s.course.mu.Unlock()
	return nil
}

func (s *SQLite) Restore(ctx context.Context, uid string, version int) (IndexEntry, error) {
	entry, err := s.lookup(ctx, uid, version)
	if err != nil {
		return IndexEntry{}, err
	}
	if err := s.Open(ctx, entry.UID, entry.Version, -1); err != nil {
		return IndexEntry{}, err
	}
	return entry, nil
}

func (s *SQLite) Reset(ctx context.Context, uid string, version int) error {
	if uid == "" {
		key, err := s.open()
		if err != nil {
			return err
		}
		uid, version = key.uid, key.version
	}
	query := "DELETE FROM records WHERE uid = ? AND version = ?"
	args := []any{uid, version}
	if version == LatestVersion {
		query = "DELETE FROM records WHERE uid = ?"
		args = []any{uid}
	}
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args})
	})
	if err != nil {
		return fmt.Errorf("connector: reset %s: %w", uid, err)
	}
	s.logger.Info("course state reset", "uid", uid, "version", version)
	return nil
}

func (s *SQLite) open() (courseKey, error) {
	s.course.mu.Lock()
	defer s.course.mu.Unlock()
	if s.course.current == nil {
		return courseKey{}, ErrNotOpen
	}
	return *s.course.current, nil
}

func (s *SQLite) lookup(ctx context.Context, uid string, version int) (IndexEntry, error) {
	query := "SELECT uid, version, title, meta, slide, updated FROM courses WHERE uid = ? AND version = ?"
	args := []any{uid, version}
	if version == LatestVersion {
		query = "SELECT uid, version, title, meta, slide, updated FROM courses WHERE uid = ? ORDER BY version DESC LIMIT 1"
		args = []any{uid}
	}
	var (
		entry IndexEntry
		found bool
	)
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry, found = scanEntry(stmt), true
				return nil
			},
		})
	})
	if err != nil {
		return IndexEntry{}, fmt.Errorf("connector: index lookup %s: %w", uid, err)
	}
	if !found {
		return IndexEntry{}, fmt.Errorf("%w: %s", ErrNotFound, uid)
	}
	return entry, nil
}

func (s *SQLite) touchCourse(conn *sqlite.Conn, uid string, version int) error {
	return sqlitex.Execute(conn, `
		INSERT INTO courses (uid, version, updated) VALUES (?, ?, ?)
		ON CONFLICT (uid, version) DO UPDATE SET updated = excluded.updated`,
		&sqlitex.ExecOptions{Args: []any{uid, version, s.clock.Now().UnixMilli()}})
}

func (s *SQLite) putRecord(conn *sqlite.Conn, key courseKey, table string, id int, data json.RawMessage) error {
	return sqlitex.Execute(conn, `
		INSERT INTO records (uid, version, tbl, id, data) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (uid, version, tbl, id) DO UPDATE SET data = excluded.data`,
		&sqlitex.ExecOptions{Args: []any{key.uid, key.version, table, id, string(data)}})
}

func scanEntry(stmt *sqlite.Stmt) IndexEntry {
	entry := IndexEntry{
		UID:     stmt.ColumnText(0),
		Version: stmt.ColumnInt(1),
		Title:   stmt.ColumnText(2),
		Slide:   stmt.ColumnInt(4),
		Updated: time.UnixMilli(stmt.ColumnInt64(5)).UTC(),
	}
	if meta := stmt.ColumnText(3); meta != "" {
		entry.Meta = json.RawMessage(meta)
	}
	return entry
}

type sqliteStorage struct{ s *SQLite }

func (st sqliteStorage) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var (
		value json.RawMessage
		found bool
	)
	err := st.s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT value FROM storage WHERE key = ?", &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value, found = json.RawMessage(stmt.ColumnText(0)), true
				return nil
			},
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("connector: storage get %q: %w", key, err)
	}
	return value, found, nil
}

func (st sqliteStorage) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("connector: storage set %q: value is not valid JSON", key)
	}
	err := st.s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"INSERT INTO storage (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
			&sqlitex.ExecOptions{Args: []any{key, string(value)}})
	})
	if err != nil {
		return fmt.Errorf("connector: storage set %q: %w", key, err)
	}
	return nil
}
