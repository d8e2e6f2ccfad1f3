// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the parts of the Matrix client-server API the
// matrix sync backend needs.
//
// [Client] is an unauthenticated Matrix client that logs in with a
// password and returns an authenticated [Session]; SessionFromToken
// builds one from an existing access token instead. Session covers
// identity (WhoAmI), room membership (ResolveAlias, JoinRoom), sending
// custom timeline events with idempotent transaction ids, incremental
// /sync, and logout.
//
// [RoomWatcher] anchors a position in the /sync stream for one room with
// a server-side filter and long-polls for the timeline events that
// arrive after it.
//
// All API errors are returned as [*MatrixError] with the standard Matrix
// error code (M_FORBIDDEN, M_NOT_FOUND, etc.) and HTTP status code.
// [IsMatrixError] tests for a specific error code. Request URLs are built
// by string concatenation rather than url.URL to avoid double-encoding of
// path segments such as room aliases.
package messaging
