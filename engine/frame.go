// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"encoding/json"

	"github.com/bureau-foundation/liaport/realtime"
)

// Engine ports.
const (
	PortFlags    = "flags"
	PortEvent    = "event2elm"
	PortFootnote = "footnote"
	PortMedia    = "media"
)

// Frame is one line written to the engine.
type Frame struct {
	Port  string `json:"port"`
	Value any    `json:"value"`
}

// Screen is the display size handed to the engine.
type Screen struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Flags describe the host to the engine when it connects.
type Flags struct {
	Settings    json.RawMessage    `json:"settings"`
	HasIndex    bool               `json:"hasIndex"`
	SyncSupport []realtime.Backend `json:"syncSupport"`
	HasShareAPI bool               `json:"hasShareAPI"`
	CourseURL   string             `json:"courseUrl"`
	Script      *string            `json:"script"`
	Screen      Screen             `json:"screen"`
}

// call is an inbound UI call.
type call struct {
	Call string            `json:"call"`
	Args []json.RawMessage `json:"args"`
}
