// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the liaport build. The variables are set at
// link time:
//
//	go build -ldflags "-X github.com/bureau-foundation/liaport/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/liaport
//
// Development builds report "0.1.0-dev (unknown, unknown)".
package version
