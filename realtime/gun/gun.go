// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gun implements the gun sync backend. Participants share a
// node on one or more GUN relay peers: every event is put into the
// field "msg" of the room node, and relays push each put to the other
// subscribers. With webrtc enabled the participants additionally build
// a WebRTC data channel mesh, signaled through the same graph, and
// send every envelope both ways; message ids deduplicate.
package gun

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/clock"
	"github.com/bureau-foundation/liaport/lib/wsconn"
	"github.com/bureau-foundation/liaport/realtime"
	"github.com/bureau-foundation/liaport/transport"
)

// MessageField is the room node field carrying envelope text.
const MessageField = "msg"

// soulPrefix namespaces room souls in shared relays.
const soulPrefix = "liaport/"

// Config is the backend config the engine sends with connect.
type Config struct {
	// Peers are relay URLs. http(s) URLs are rewritten to ws(s).
	Peers []string `json:"peers"`
	Room  string   `json:"room"`

	WebRTC bool                  `json:"webrtc"`
	ICE    []transport.ICEServer `json:"ice"`

	realtime.Options
}

// Options configures the adapter itself.
type Options struct {
	Dialer *websocket.Dialer
	Clock  clock.Clock
	Logger *slog.Logger

	// MeshPollInterval overrides the signaling poll period of the
	// WebRTC mesh.
	MeshPollInterval time.Duration

	// ReadyTimeout bounds the wait for the room subscription ack.
	// Zero means realtime.DefaultReadyTimeout.
	ReadyTimeout time.Duration
}

// Adapter is the gun realtime.Adapter.
type Adapter struct {
	realtime.Slot
	options Options

	current atomic.Pointer[room]
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
	if options.ReadyTimeout == 0 {
		options.ReadyTimeout = realtime.DefaultReadyTimeout
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
		return Config{}, errors.New("gun: config is required")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("gun: config: %w", err)
	}
	if cfg.Room == "" {
		return Config{}, errors.New("gun: room is required")
	}
	if len(cfg.Peers) == 0 {
		return Config{}, errors.New("gun: at least one relay peer is required")
	}
	for i, peer := range cfg.Peers {
		normalized, err := relayURL(peer)
		if err != nil {
			return Config{}, err
		}
		cfg.Peers[i] = normalized
	}
	if cfg.WebRTC {
		if _, err := transport.NewICEConfig(cfg.ICE); err != nil {
			return Config{}, fmt.Errorf("gun: %w", err)
		}
	}
	if _, err := realtime.ParseOptions(raw); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func relayURL(peer string) (string, error) {
	parsed, err := url.Parse(peer)
	if err != nil {
		return "", fmt.Errorf("gun: relay %q: %w", peer, err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("gun: relay %q: unsupported scheme", peer)
	}
	return parsed.String(), nil
}

// Connect validates config and joins the room in the background.
func (a *Adapter) Connect(ctx context.Context, raw json.RawMessage, callbacks realtime.Callbacks) error {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return err
	}
	r := &room{
		config:  cfg,
		options: a.options,
		soul:    soulPrefix + cfg.Room,
		graph:   NewGraph(),
		relays:  newRelaySet(),
		getID:   newMessageID(),
	}
	r.session = realtime.NewSession(ctx, realtime.SessionConfig{
		Backend:   realtime.Gun,
		Origin:    uuid.NewString(),
		Options:   cfg.Options,
		Callbacks: callbacks,
		Write:     r.send,
		Clock:     a.options.Clock,
		Logger:    a.options.Logger,

		ReadyTimeout: a.options.ReadyTimeout,
	})
	a.Set(r.session)
	a.current.Store(r)
	go r.run()
	return nil
}

// Disconnect closes the session and the mesh.
func (a *Adapter) Disconnect() {
	a.current.Store(nil)
	a.Slot.Disconnect()
}

// MeshPeers lists the peers with an open WebRTC data channel.
func (a *Adapter) MeshPeers() []string {
	r := a.current.Load()
	if r == nil {
		return nil
	}
	mesh := r.currentMesh()
	if mesh == nil {
		return nil
	}
	return mesh.Connected()
}

// room is one session in one room.
type room struct {
	config  Config
	options Options
	soul    string
	graph   *Graph
	relays  *relaySet
	session *realtime.Session

	// getID is the id of the room subscription; its first ack makes
	// the session ready.
	getID string

	meshMu sync.Mutex
	mesh   *transport.Mesh
}

func (r *room) currentMesh() *transport.Mesh {
	r.meshMu.Lock()
	defer r.meshMu.Unlock()
	return r.mesh
}

func (r *room) run() {
	ctx := r.session.Context()
	logger := r.session.Logger().With("room", r.config.Room)

	var signaler *graphSignaler
	if r.config.WebRTC {
		signaler = newGraphSignaler(r.soul, r.relays, r.graph, r.options.Clock)
	}

	var dialErrs []error
	var conns []*wsconn.Conn
	for _, peer := range r.config.Peers {
		conn, err := wsconn.Dial(ctx, wsconn.Config{
			URL:       peer,
			Dialer:    r.options.Dialer,
			OnMessage: r.receive,
			Logger:    logger,
		})
		if err != nil {
			logger.Warn("gun relay unreachable", "relay", peer, "error", err)
			dialErrs = append(dialErrs, err)
			continue
		}
		r.relays.add(conn, peer)
		conns = append(conns, conn)
	}
	if len(conns) == 0 {
		r.session.Fail(fmt.Errorf("gun: no relay reachable: %w", errors.Join(dialErrs...)))
		return
	}

	for _, conn := range conns {
		go r.pump(ctx, conn, logger)
	}

	subscriptions := []string{r.soul}
	if signaler != nil {
		subscriptions = append(subscriptions, signaler.souls()...)
	}
	for i, soul := range subscriptions {
		id := newMessageID()
		if i == 0 {
			id = r.getID
		}
		if err := r.relays.send(Message{ID: id, Get: &GetRequest{Soul: soul}}); err != nil {
			r.session.Fail(err)
			return
		}
	}

	if signaler != nil {
		r.startMesh(ctx, signaler, logger)
	}
}

// pump runs one relay connection. The session fails when the last
// relay is gone.
func (r *room) pump(ctx context.Context, conn *wsconn.Conn, logger *slog.Logger) {
	err := conn.Run(ctx)
	remaining := r.relays.remove(conn)
	if ctx.Err() != nil {
		return
	}
	logger.Warn("gun relay disconnected", "error", err, "remaining", remaining)
	if remaining == 0 {
		if err == nil {
			err = errors.New("gun: relay closed the connection")
		}
		r.session.Fail(fmt.Errorf("gun: all relays disconnected: %w", err))
	}
}

func (r *room) startMesh(ctx context.Context, signaler *graphSignaler, logger *slog.Logger) {
	ice, err := transport.NewICEConfig(r.config.ICE)
	if err != nil {
		logger.Warn("webrtc mesh disabled", "error", err)
		return
	}
	mesh, err := transport.NewMesh(transport.MeshConfig{
		PeerID:       r.session.Codec().Origin(),
		Signaler:     signaler,
		ICE:          ice,
		OnMessage:    func(_ string, data []byte) { r.session.Receive(data) },
		PollInterval: r.options.MeshPollInterval,
		Logger:       logger,
	})
	if err != nil {
		logger.Warn("webrtc mesh disabled", "error", err)
		return
	}
	r.meshMu.Lock()
	r.mesh = mesh
	r.meshMu.Unlock()

	go func() {
		<-ctx.Done()
		mesh.Close()
	}()
	if err := mesh.Run(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, transport.ErrMeshClosed) {
		logger.Warn("webrtc mesh stopped", "error", err)
	}
}

func (r *room) receive(messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}
	logger := r.session.Logger()
	messages, err := decodeMessages(data)
	if err != nil {
		logger.Debug("ignoring malformed relay message", "error", err)
		return
	}
	for _, message := range messages {
		r.handle(message, logger)
	}
}

func (r *room) handle(message Message, logger *slog.Logger) {
	if message.Err != "" {
		logger.Warn("gun relay rejected message", "ack", message.Ack, "error", message.Err)
	}
	if message.Ack != "" && message.Ack == r.getID {
		r.session.Ready()
	}
	for soul, node := range message.Put {
		_, err := r.graph.Merge(soul, node)
		if err != nil {
			logger.Debug("ignoring malformed node", "soul", soul, "error", err)
			continue
		}
		if soul != r.soul || message.Ack != "" {
			// Answers to our subscription carry history, not live
			// events.
			continue
		}
		r.deliverLive(node)
	}
}

// deliverLive hands a pushed room message to the session. The envelope
// codec drops duplicates, so a value that lost the HAM merge is still
// delivered if its envelope is new.
func (r *room) deliverLive(node json.RawMessage) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(node, &fields); err != nil {
		return
	}
	raw, ok := fields[MessageField]
	if !ok {
		return
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil || text == "" {
		return
	}
	r.session.ReceiveText(text)
}

// send is the outbox writer: one envelope to the relays as text and to
// the mesh as bytes.
func (r *room) send(_ context.Context, ev event.Event) error {
	data, err := r.session.Codec().Pack(ev)
	if err != nil {
		return err
	}
	if mesh := r.currentMesh(); mesh != nil {
		mesh.Broadcast(data)
	}
	value, err := json.Marshal(base64.StdEncoding.EncodeToString(data))
	if err != nil {
		return err
	}
	state := float64(r.options.Clock.Now().UnixMilli())
	values := map[string]json.RawMessage{MessageField: value}
	node, err := EncodeNode(r.soul, state, values)
	if err != nil {
		return err
	}
	// The relays do not echo our own puts, so the local replica is
	// updated here.
	if _, err := r.graph.Merge(r.soul, node); err != nil {
		return fmt.Errorf("gun: merging own put: %w", err)
	}
	_, err = r.relays.put(r.soul, state, values)
	return err
}
