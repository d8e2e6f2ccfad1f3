// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wsconn is a client-side websocket connection with a single
// write pump and keepalive pings, shared by the websocket-based sync
// backends.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxMessageSize bounds inbound messages.
	DefaultMaxMessageSize = 4 << 20

	sendQueueSize = 256
)

var (
	// ErrSendQueueFull is returned by Send when the write pump is behind.
	ErrSendQueueFull = errors.New("wsconn: send queue full")

	// ErrClosed is returned by Send after the connection ended.
	ErrClosed = errors.New("wsconn: connection closed")
)

// Config configures Dial.
type Config struct {
	URL    string
	Header http.Header

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// OnMessage receives every text or binary message, on the read
	// goroutine.
	OnMessage func(messageType int, data []byte)

	// MaxMessageSize defaults to DefaultMaxMessageSize.
	MaxMessageSize int64

	Logger *slog.Logger
}

type outgoing struct {
	messageType int
	data        []byte
}

// Conn is a dialed websocket. Run drives it; Send queues writes.
type Conn struct {
	conn      *websocket.Conn
	onMessage func(int, []byte)
	logger    *slog.Logger

	send chan outgoing

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Dial opens the websocket. The returned Conn does nothing until Run.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	onMessage := cfg.OnMessage
	if onMessage == nil {
		onMessage = func(int, []byte) {}
	}

	conn, response, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("wsconn: dialing %s: %w (status %d)", cfg.URL, err, response.StatusCode)
		}
		return nil, fmt.Errorf("wsconn: dialing %s: %w", cfg.URL, err)
	}

	maxSize := cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	conn.SetReadLimit(maxSize)

	return &Conn{
		conn:      conn,
		onMessage: onMessage,
		logger:    logger.With("url", cfg.URL),
		send:      make(chan outgoing, sendQueueSize),
		done:      make(chan struct{}),
	}, nil
}

// Run pumps messages in both directions until the connection fails,
// ctx is done or Close is called. It returns nil for a normal close.
func (c *Conn) Run(ctx context.Context) error {
	readErr := make(chan error, 1)
	go func() { readErr <- c.readPump() }()

	err := c.writePump(ctx, readErr)
	c.Close()
	if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

// readPump delivers messages until the connection fails.
func (c *Conn) readPump() error {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return err
		}
		c.onMessage(messageType, data)
	}
}

// writePump is the only writer on the connection.
func (c *Conn) writePump(ctx context.Context, readErr <-chan error) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.writeClose()
			return nil
		case <-c.done:
			c.writeClose()
			return nil
		case err := <-readErr:
			return err
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.messageType, message.data); err != nil {
				return fmt.Errorf("wsconn: write: %w", err)
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("wsconn: ping: %w", err)
			}
		}
	}
}

func (c *Conn) writeClose() {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
}

// Send queues a message without blocking.
func (c *Conn) Send(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- outgoing{messageType: messageType, data: data}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SendJSON queues v as a text message.
func (c *Conn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsconn: encoding message: %w", err)
	}
	return c.Send(websocket.TextMessage, data)
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close stops the pumps and closes the socket. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	// Give the write pump a chance to send the close frame before
	// the socket goes away.
	time.AfterFunc(100*time.Millisecond, func() { c.conn.Close() })
	return nil
}
