// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/event"
)

// Dictionary maps a language code to phrase translations.
type Dictionary map[string]map[string]string

// LoadDictionary reads a JSON dictionary file.
func LoadDictionary(path string) (Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("translate: reading dictionary: %w", err)
	}
	var dictionary Dictionary
	if err := json.Unmarshal(data, &dictionary); err != nil {
		return nil, fmt.Errorf("translate: parsing %s: %w", path, err)
	}
	return dictionary, nil
}

// Translate answers phrase lookups from a static dictionary. Phrases
// without a translation come back unchanged.
type Translate struct {
	path       string
	dictionary Dictionary
	logger     *slog.Logger
	send       event.Send
}

// NewTranslate returns a Translate service reading its dictionary from
// path during Init.
func NewTranslate(path string, logger *slog.Logger) *Translate {
	return &Translate{path: path, logger: discardLogger(logger)}
}

func (t *Translate) Topic() event.Topic { return event.Translate }

func (t *Translate) Init(send event.Send, _ connector.Connector) error {
	if t.path == "" {
		return errors.New("no dictionary configured")
	}
	dictionary, err := LoadDictionary(t.path)
	if err != nil {
		return err
	}
	t.dictionary = dictionary
	t.send = send
	return nil
}

type translateParam struct {
	Lang    string   `json:"lang"`
	Phrases []string `json:"phrases"`
}

func (t *Translate) Handle(_ context.Context, ev event.Event) error {
	if t.send == nil {
		return ErrNotInitialized
	}
	switch ev.Message.Cmd {
	case "languages":
		reply(t.send, t.logger, ev, slices.Sorted(maps.Keys(t.dictionary)))
		return nil

	case "translate":
		var param translateParam
		if err := ev.Message.Decode(&param); err != nil {
			return err
		}
		table := t.dictionary[param.Lang]
		if table == nil {
			t.logger.Debug("no translations for language", "lang", param.Lang)
		}
		translations := make([]string, len(param.Phrases))
		for i, phrase := range param.Phrases {
			if translated, ok := table[phrase]; ok {
				translations[i] = translated
			} else {
				translations[i] = phrase
			}
		}
		reply(t.send, t.logger, ev, map[string]any{"lang": param.Lang, "translations": translations})
		return nil
	}
	return unknownCommand(ev)
}
