// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/liaport/connector"
	"github.com/bureau-foundation/liaport/engine"
	"github.com/bureau-foundation/liaport/lib/config"
	"github.com/bureau-foundation/liaport/lib/process"
	"github.com/bureau-foundation/liaport/lib/version"
	"github.com/bureau-foundation/liaport/router"
	"github.com/bureau-foundation/liaport/services"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath string
	debug      bool
	course     string
	script     string
	screen     string
}

func run(args []string, stdout io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("liaport", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "configuration file (default: $LIAPORT_CONFIG)")
	flagSet.BoolVar(&opts.debug, "debug", false, "log at debug level")
	flagSet.StringVar(&opts.course, "course", "", "course URL handed to the engine (overrides course.url)")
	flagSet.StringVar(&opts.script, "script", "", "course source file handed to the engine inline (overrides course.script)")
	flagSet.StringVar(&opts.screen, "screen", "1280x800", "screen size handed to the engine, WIDTHxHEIGHT")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	command := "serve"
	if rest := flagSet.Args(); len(rest) > 0 {
		command = rest[0]
		if len(rest) > 1 {
			return fmt.Errorf("unexpected argument: %s", rest[1])
		}
	}

	switch command {
	case "version":
		fmt.Fprintf(stdout, "liaport %s\n", version.Full())
		return nil
	case "backends":
		cfg, err := loadConfig(opts.configPath)
		if err != nil {
			return err
		}
		return printBackends(stdout, cfg, newLogger(opts.debug))
	case "serve":
		cfg, err := loadConfig(opts.configPath)
		if err != nil {
			return err
		}
		screen, err := parseScreen(opts.screen)
		if err != nil {
			return err
		}
		if opts.course != "" {
			cfg.Course.URL = opts.course
		}
		if opts.script != "" {
			cfg.Course.Script = opts.script
		}
		return serve(cfg, screen, newLogger(opts.debug))
	}
	return fmt.Errorf("unknown command %q (want serve, backends or version)", command)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `liaport - host services for a course rendering engine.

Usage:
  liaport [flags] [serve|backends|version]

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// courseScript reads the inline course source. An empty path means
// none.
func courseScript(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading course script: %w", err)
	}
	return string(data), nil
}

// parseScreen reads WIDTHxHEIGHT.
func parseScreen(value string) (engine.Screen, error) {
	width, height, ok := strings.Cut(strings.ToLower(value), "x")
	if !ok {
		return engine.Screen{}, fmt.Errorf("--screen %q: want WIDTHxHEIGHT", value)
	}
	w, errW := strconv.Atoi(width)
	h, errH := strconv.Atoi(height)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return engine.Screen{}, fmt.Errorf("--screen %q: want positive WIDTHxHEIGHT", value)
	}
	return engine.Screen{Width: w, Height: h}, nil
}

func printBackends(w io.Writer, cfg *config.Config, logger *slog.Logger) error {
	backends := services.NewSync(syncConfig(cfg, logger)).Supported()
	if len(backends) == 0 {
		fmt.Fprintln(w, "sync disabled")
		return nil
	}
	for _, backend := range backends {
		configured := ""
		if _, ok := cfg.Sync.Backends[string(backend)]; ok {
			configured = " (configured)"
		}
		fmt.Fprintf(w, "%s%s\n", backend, configured)
	}
	return nil
}

func serve(cfg *config.Config, screen engine.Screen, logger *slog.Logger) error {
	slog.SetDefault(logger)
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	store, err := connector.OpenSQLite(connector.SQLiteConfig{
		Path:   cfg.Paths.Database,
		Logger: logger.With("component", "connector"),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	script, err := courseScript(cfg.Course.Script)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineConfig := engine.Config{
		Services:  func() []router.Service { return newServices(cfg, logger) },
		Connector: store,
		CourseURL: cfg.Course.URL,
		Script:    script,
		Screen:    screen,
		Logger:    logger,
	}
	logger.Info("liaport starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"database", cfg.Paths.Database,
		"sync", cfg.Sync.Allow,
	)
	if cfg.Paths.Socket == "" {
		return engine.ServeStdio(ctx, engineConfig, os.Stdin, os.Stdout)
	}
	return engine.NewServer(cfg.Paths.Socket, engineConfig).Serve(ctx)
}
