// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/bureau-foundation/liaport/lib/netutil"
)

// Server accepts engine connections on a Unix socket. Every
// connection gets its own Session.
type Server struct {
	socketPath string
	config     Config
	logger     *slog.Logger

	// activeSessions tracks running sessions; Serve waits for them
	// before returning.
	activeSessions sync.WaitGroup
}

// NewServer returns a server that will listen on socketPath.
func NewServer(socketPath string, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{socketPath: socketPath, config: config, logger: logger}
}

// Serve accepts engine connections until ctx is cancelled, then closes
// every open connection and waits for the sessions to end.
//
// A stale socket file at the configured path is removed before
// listening. The socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("waiting for engine connections", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeSessions.Add(1)
		go func() {
			defer s.activeSessions.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeSessions.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	config := s.config
	config.Logger = s.logger
	if err := NewSession(config, conn).Run(ctx, conn); err != nil && ctx.Err() == nil && !netutil.IsExpectedCloseError(err) {
		s.logger.Warn("engine session ended", "error", err)
	}
}

// ServeStdio runs one session over in and out.
func ServeStdio(ctx context.Context, config Config, in io.Reader, out io.Writer) error {
	return NewSession(config, out).Run(ctx, in)
}
