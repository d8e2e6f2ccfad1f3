// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the one raw stderr write liaport binaries make:
// reporting a startup failure before the structured logger exists.
package process
