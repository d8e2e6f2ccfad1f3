// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package beaker implements the beaker sync backend for participants on
// the same host. A room is a directory; each participant listens on a
// Unix socket in it, named after its peer id, and writes every
// envelope as a CBOR frame to the sockets of all other participants.
//
// The backend is only offered when the shared directory is configured;
// see [Supported].
package beaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/clock"
	"github.com/bureau-foundation/liaport/lib/codec"
	"github.com/bureau-foundation/liaport/lib/netutil"
	"github.com/bureau-foundation/liaport/realtime"
)

// DirEnv names the environment variable holding the shared directory.
const DirEnv = "LIAPORT_BEAKER_DIR"

const (
	socketSuffix = ".sock"

	// maxFrameSize bounds one outbound frame.
	maxFrameSize = 4 << 20

	dialTimeout  = 2 * time.Second
	writeTimeout = 5 * time.Second
)

// Supported reports whether DirEnv names a directory.
func Supported() bool {
	return supportedDir(os.Getenv(DirEnv))
}

func supportedDir(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Config is the backend config the engine sends with connect.
type Config struct {
	Room string `json:"room"`

	realtime.Options
}

// Options configures the adapter itself.
type Options struct {
	// Dir overrides DirEnv.
	Dir string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Adapter is the beaker realtime.Adapter.
type Adapter struct {
	realtime.Slot
	options Options
}

var _ realtime.Adapter = (*Adapter)(nil)

// New returns an unconnected adapter.
func New(options Options) *Adapter {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{options: options}
}

// Factory adapts New to realtime.Factory.
func Factory(options Options) realtime.Factory {
	return func() realtime.Adapter { return New(options) }
}

// ParseConfig decodes and validates a backend config.
func ParseConfig(raw json.RawMessage) (Config, error) {
	var cfg Config
	if len(raw) == 0 {
		return Config{}, errors.New("beaker: config is required")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("beaker: config: %w", err)
	}
	if cfg.Room == "" {
		return Config{}, errors.New("beaker: room is required")
	}
	if cfg.Room != filepath.Base(cfg.Room) || strings.HasPrefix(cfg.Room, ".") {
		return Config{}, fmt.Errorf("beaker: room %q must be a plain name", cfg.Room)
	}
	if _, err := realtime.ParseOptions(raw); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Connect validates config and starts listening in the background.
func (a *Adapter) Connect(ctx context.Context, raw json.RawMessage, callbacks realtime.Callbacks) error {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return err
	}
	dir := a.options.Dir
	if dir == "" {
		dir = os.Getenv(DirEnv)
	}
	if !supportedDir(dir) {
		return fmt.Errorf("beaker: %s is not set to a directory", DirEnv)
	}

	peer := uuid.NewString()
	r := &room{
		dir:   filepath.Join(dir, cfg.Room),
		peer:  peer,
		conns: make(map[string]net.Conn),
	}
	r.session = realtime.NewSession(ctx, realtime.SessionConfig{
		Backend:   realtime.Beaker,
		Origin:    peer,
		Options:   cfg.Options,
		Callbacks: callbacks,
		Write:     r.send,
		Clock:     a.options.Clock,
		Logger:    a.options.Logger,
	})
	a.Set(r.session)
	go r.run()
	return nil
}

type room struct {
	dir     string
	peer    string
	session *realtime.Session

	// conns caches outbound connections by socket name.
	mu    sync.Mutex
	conns map[string]net.Conn
}

func (r *room) socketPath() string {
	return filepath.Join(r.dir, r.peer+socketSuffix)
}

func (r *room) run() {
	ctx := r.session.Context()
	logger := r.session.Logger().With("room_dir", r.dir)

	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		r.session.Fail(fmt.Errorf("beaker: creating room directory: %w", err))
		return
	}
	listener, err := net.Listen("unix", r.socketPath())
	if err != nil {
		r.session.Fail(fmt.Errorf("beaker: listening on %s: %w", r.socketPath(), err))
		return
	}
	go func() {
		<-ctx.Done()
		listener.Close()
		os.Remove(r.socketPath())
		r.closeConns()
	}()

	r.session.Ready()

	var active sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Error("accept failed", "error", err)
			continue
		}
		active.Add(1)
		go func() {
			defer active.Done()
			r.read(ctx, conn)
		}()
	}
	active.Wait()
}

// read decodes frames from one peer until it hangs up.
func (r *room) read(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	decoder := codec.NewDecoder(conn)
	for {
		var envelope realtime.Envelope
		if err := decoder.Decode(&envelope); err != nil {
			if ctx.Err() == nil && !netutil.IsExpectedCloseError(err) {
				r.session.Logger().Warn("closing beaker peer connection", "error", err)
			}
			return
		}
		r.session.ReceiveEnvelope(envelope)
	}
}

// send is the outbox writer: the envelope goes to every other socket
// in the room directory. Stale sockets are skipped.
func (r *room) send(ctx context.Context, ev event.Event) error {
	envelope, err := r.session.Codec().Seal(ev)
	if err != nil {
		return err
	}
	frame, err := codec.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("beaker: encoding envelope: %w", err)
	}
	if len(frame) > maxFrameSize {
		return fmt.Errorf("beaker: envelope of %d bytes exceeds %d", len(frame), maxFrameSize)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("beaker: listing room: %w", err)
	}
	logger := r.session.Logger()
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, socketSuffix) || name == r.peer+socketSuffix {
			continue
		}
		if err := r.write(ctx, name, frame); err != nil {
			logger.Debug("skipping beaker peer", "socket", name, "error", err)
		}
	}
	return nil
}

func (r *room) write(ctx context.Context, name string, frame []byte) error {
	conn, err := r.conn(ctx, name)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(frame); err != nil {
		r.forget(name)
		return err
	}
	return nil
}

func (r *room) conn(ctx context.Context, name string) (net.Conn, error) {
	r.mu.Lock()
	conn, ok := r.conns[name]
	r.mu.Unlock()
	if ok {
		return conn, nil
	}
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", filepath.Join(r.dir, name))
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.conns[name] = conn
	r.mu.Unlock()
	return conn, nil
}

func (r *room) forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[name]; ok {
		conn.Close()
		delete(r.conns, name)
	}
}

func (r *room) closeConns() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, conn := range r.conns {
		conn.Close()
		delete(r.conns, name)
	}
}
