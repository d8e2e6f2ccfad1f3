// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite database behind the course
// connector. It wraps zombiezen.com/go/sqlite's sqlitex.Pool with a
// fixed set of pragmas and an idempotent schema applied to every
// connection.
//
// Pragmas applied per connection:
//
//   - journal_mode=WAL, synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//   - temp_store=MEMORY
//
// Connections are not safe for concurrent use. Use [Pool.With] or a
// Take/Put pair per goroutine.
package sqlitepool
