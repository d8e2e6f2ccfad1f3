// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "fmt"

// Topic names the service an event is addressed to.
type Topic string

const (
	Database  Topic = "database"
	TTS       Topic = "tts"
	Script    Topic = "script"
	Console   Topic = "console"
	Share     Topic = "share"
	Slide     Topic = "slide"
	Swipe     Topic = "swipe"
	Sync      Topic = "sync"
	Translate Topic = "translate"
	Resource  Topic = "resource"
)

// allTopics is in initialization order: Database first so that the
// storage-backed service is ready before anything that reads state.
var allTopics = [...]Topic{
	Database, TTS, Script, Console, Share, Slide, Swipe, Sync, Translate, Resource,
}

// Topics returns every known topic in initialization order.
func Topics() []Topic {
	return append([]Topic(nil), allTopics[:]...)
}

// ParseTopic returns the Topic named by s, or an error if s is not one
// of the known topics.
func ParseTopic(s string) (Topic, error) {
	topic := Topic(s)
	if !topic.Valid() {
		return "", fmt.Errorf("event: unknown topic %q", s)
	}
	return topic, nil
}

// Valid reports whether t is one of the known topics.
func (t Topic) Valid() bool {
	for _, known := range allTopics {
		if t == known {
			return true
		}
	}
	return false
}

func (t Topic) String() string { return string(t) }
