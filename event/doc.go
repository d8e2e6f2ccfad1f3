// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the values exchanged with the course engine.
//
// An [Event] names the service it is for ([Topic]), carries a command
// and an opaque JSON parameter ([Message]), and a [Track] locating its
// origin inside the course (for example the slide and the quiz on it).
// Services answer by sending an event with Reply set; the [Outbound]
// sender drops everything else before it reaches the engine.
//
// The JSON form matches the engine's ports:
//
//	{"reply": true,
//	 "track": [["quiz", 3], ["eval", 0]],
//	 "service": "script",
//	 "message": {"cmd": "eval", "param": {"code": "1 + 1"}}}
package event
