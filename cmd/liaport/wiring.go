// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"log/slog"

	"github.com/bureau-foundation/liaport/lib/config"
	"github.com/bureau-foundation/liaport/realtime"
	"github.com/bureau-foundation/liaport/realtime/beaker"
	"github.com/bureau-foundation/liaport/realtime/gun"
	"github.com/bureau-foundation/liaport/realtime/jitsi"
	"github.com/bureau-foundation/liaport/realtime/matrix"
	"github.com/bureau-foundation/liaport/realtime/pubnub"
	"github.com/bureau-foundation/liaport/router"
	"github.com/bureau-foundation/liaport/services"
)

// adapterFactories constructs one factory per sync backend.
func adapterFactories(logger *slog.Logger) map[realtime.Backend]realtime.Factory {
	return map[realtime.Backend]realtime.Factory{
		realtime.Beaker: beaker.Factory(beaker.Options{Logger: logger.With("backend", realtime.Beaker)}),
		realtime.Gun:    gun.Factory(gun.Options{Logger: logger.With("backend", realtime.Gun)}),
		realtime.Jitsi:  jitsi.Factory(jitsi.Options{Logger: logger.With("backend", realtime.Jitsi)}),
		realtime.Matrix: matrix.Factory(matrix.Options{Logger: logger.With("backend", realtime.Matrix)}),
		realtime.Pubnub: pubnub.Factory(pubnub.Options{Logger: logger.With("backend", realtime.Pubnub)}),
	}
}

func syncConfig(cfg *config.Config, logger *slog.Logger) services.SyncConfig {
	return services.SyncConfig{
		Allow:       cfg.Sync.Allow,
		Factories:   adapterFactories(logger),
		BeakerProbe: beaker.Supported,
		Defaults: func(tag string) (json.RawMessage, error) {
			return cfg.Sync.BackendConfig(tag)
		},
		Logger: logger.With("service", "sync"),
	}
}

// newServices returns a fresh service set in initialization order:
// Database first, then the rest as the engine lists its topics.
func newServices(cfg *config.Config, logger *slog.Logger) []router.Service {
	return []router.Service{
		services.NewDatabase(logger.With("service", "database")),
		services.NewTTS(services.CommandSpeaker{
			Command:   cfg.TTS.Command,
			Args:      cfg.TTS.Args,
			VoiceFlag: cfg.TTS.VoiceFlag,
		}, logger.With("service", "tts")),
		services.NewScript(services.ScriptConfig{
			Interpreters: cfg.Script.Interpreters,
			Timeout:      cfg.ScriptTimeout(),
			Logger:       logger.With("service", "script"),
		}),
		services.NewConsole(logger),
		services.NewShare(cfg.Share.Command, cfg.Share.Args, logger.With("service", "share")),
		services.NewSlide(),
		services.NewSwipe(),
		services.NewSync(syncConfig(cfg, logger)),
		services.NewTranslate(cfg.Translate.Dictionary, logger.With("service", "translate")),
		services.NewResource(services.ResourceConfig{
			Timeout:  cfg.ResourceTimeout(),
			MaxBytes: cfg.Resource.MaxBytes,
			Logger:   logger.With("service", "resource"),
		}),
	}
}
