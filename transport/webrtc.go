// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// DefaultPollInterval is how often the mesh polls the signaler for
// peers, offers and answers.
const DefaultPollInterval = 2 * time.Second

// iceGatherTimeout is the maximum time to wait for ICE candidate gathering
// to complete before publishing the SDP.
const iceGatherTimeout = 15 * time.Second

// answerTimeout is how long an offer may stay unanswered before the
// PeerConnection is dropped and the peer becomes eligible for a new
// attempt.
const answerTimeout = 30 * time.Second

// channelLabel names the single data channel each PeerConnection carries.
const channelLabel = "liaport-sync"

// ErrMeshClosed is returned by Run after Close.
var ErrMeshClosed = errors.New("transport: mesh closed")

// MeshConfig configures a Mesh.
type MeshConfig struct {
	// PeerID identifies this participant in signaling. Required.
	PeerID string

	// Signaler exchanges presence and session descriptions. Required.
	Signaler Signaler

	// ICE is the STUN/TURN configuration. Empty means host candidates
	// only.
	ICE ICEConfig

	// OnMessage receives every data channel message with the id of the
	// peer it came from. Called on pion goroutines.
	OnMessage func(peer string, data []byte)

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Mesh is a full mesh of WebRTC data channels between every peer that
// announces itself on the same Signaler. Each pair of peers shares one
// PeerConnection carrying one ordered, reliable data channel. Messages
// are opaque byte slices; the mesh does not relay.
//
// When both peers attempt to connect simultaneously, the peer whose id
// is lexicographically smaller is the canonical offerer and the other
// peer drops its redundant PeerConnection. Discovery only dials peers
// with a larger id, so the race arises only after a restart.
type Mesh struct {
	id           string
	signaler     Signaler
	iceConfig    ICEConfig
	onMessage    func(peer string, data []byte)
	pollInterval time.Duration
	logger       *slog.Logger

	// peers maps peer id to peerState.
	mu    sync.Mutex
	peers map[string]*peerState

	// ready is closed once Run has announced this peer.
	ready     chan struct{}
	readyOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once
}

// peerState tracks the PeerConnection to a single remote peer.
// Protected by Mesh.mu.
type peerState struct {
	connection *webrtc.PeerConnection
	id         string

	// offeredAt is set for outbound connections until the answer
	// arrives.
	offeredAt time.Time

	// channel is set once the data channel is open.
	channel *webrtc.DataChannel
}

// NewMesh validates config and returns an idle Mesh. Call Run to join.
func NewMesh(config MeshConfig) (*Mesh, error) {
	if config.PeerID == "" {
		return nil, errors.New("transport: mesh requires a peer id")
	}
	if config.Signaler == nil {
		return nil, errors.New("transport: mesh requires a signaler")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.OnMessage == nil {
		config.OnMessage = func(string, []byte) {}
	}
	return &Mesh{
		id:           config.PeerID,
		signaler:     config.Signaler,
		iceConfig:    config.ICE,
		onMessage:    config.OnMessage,
		pollInterval: config.PollInterval,
		logger:       config.Logger.With("peer_id", config.PeerID),
		peers:        make(map[string]*peerState),
		ready:        make(chan struct{}),
		closed:       make(chan struct{}),
	}, nil
}

// ID returns this peer's id.
func (m *Mesh) ID() string { return m.id }

// Ready returns a channel that is closed once Run has announced this
// peer to the signaler.
func (m *Mesh) Ready() <-chan struct{} { return m.ready }

// Run announces this peer and then polls the signaler until ctx is
// cancelled or Close is called.
func (m *Mesh) Run(ctx context.Context) error {
	if err := m.signaler.Announce(ctx, m.id); err != nil {
		return fmt.Errorf("transport: announcing %s: %w", m.id, err)
	}
	m.readyOnce.Do(func() { close(m.ready) })

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		m.poll(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return ErrMeshClosed
		case <-ticker.C:
		}
	}
}

// Broadcast sends data to every peer with an open data channel and
// returns how many sends succeeded.
func (m *Mesh) Broadcast(data []byte) int {
	m.mu.Lock()
	type target struct {
		id      string
		channel *webrtc.DataChannel
	}
	targets := make([]target, 0, len(m.peers))
	for id, peer := range m.peers {
		if peer.channel != nil {
			targets = append(targets, target{id: id, channel: peer.channel})
		}
	}
	m.mu.Unlock()

	sent := 0
	for _, target := range targets {
		if err := target.channel.Send(data); err != nil {
			m.logger.Warn("mesh send failed", "peer", target.id, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Connected lists the peers with an open data channel, sorted.
func (m *Mesh) Connected() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, peer := range m.peers {
		if peer.channel != nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Close shuts down all PeerConnections and stops Run.
func (m *Mesh) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, peer := range m.peers {
		peer.connection.Close()
		delete(m.peers, id)
	}
	return nil
}

func (m *Mesh) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// poll runs one signaling round: answer offers, apply answers, expire
// stale offers, then dial newly discovered peers.
func (m *Mesh) poll(ctx context.Context) {
	if m.isClosed() || ctx.Err() != nil {
		return
	}
	m.processInboundOffers(ctx)
	m.processAnswers(ctx)
	m.expireOffers()
	m.discover(ctx)
}

// discover dials every announced peer whose id sorts after ours and
// that has no PeerConnection yet.
func (m *Mesh) discover(ctx context.Context) {
	peers, err := m.signaler.Peers(ctx)
	if err != nil {
		m.logger.Warn("listing mesh peers failed", "error", err)
		return
	}
	for _, id := range peers {
		if id <= m.id {
			continue
		}
		m.mu.Lock()
		_, exists := m.peers[id]
		m.mu.Unlock()
		if exists {
			continue
		}
		if err := m.dial(ctx, id); err != nil {
			m.logger.Warn("offering WebRTC connection failed", "peer", id, "error", err)
		}
	}
}

// dial creates a PeerConnection to id and publishes the offer. The
// answer is applied by a later processAnswers round.
func (m *Mesh) dial(ctx context.Context, id string) error {
	pc, err := m.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating PeerConnection: %w", err)
	}
	peer := &peerState{connection: pc, id: id}
	m.wire(peer)

	// The offerer creates the data channel; its presence in the SDP is
	// what makes pion negotiate SCTP.
	ordered := true
	dc, err := pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating data channel: %w", err)
	}
	m.attach(peer, dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating SDP offer: %w", err)
	}
	sdp, err := m.gather(ctx, pc, offer)
	if err != nil {
		pc.Close()
		return err
	}

	m.mu.Lock()
	peer.offeredAt = time.Now()
	m.peers[id] = peer
	m.mu.Unlock()

	if err := m.signaler.PublishOffer(ctx, m.id, id, sdp); err != nil {
		m.drop(peer)
		return fmt.Errorf("publishing SDP offer: %w", err)
	}
	m.logger.Info("WebRTC offer published", "peer", id)
	return nil
}

// processAnswers applies answers to our pending offers.
func (m *Mesh) processAnswers(ctx context.Context) {
	answers, err := m.signaler.PollAnswers(ctx, m.id)
	if err != nil {
		m.logger.Warn("polling for SDP answers failed", "error", err)
		return
	}
	for _, answer := range answers {
		m.mu.Lock()
		peer, ok := m.peers[answer.Peer]
		pending := ok && !peer.offeredAt.IsZero()
		if pending {
			peer.offeredAt = time.Time{}
		}
		m.mu.Unlock()
		if !pending {
			continue
		}

		description := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}
		if err := peer.connection.SetRemoteDescription(description); err != nil {
			m.logger.Warn("applying SDP answer failed", "peer", answer.Peer, "error", err)
			m.drop(peer)
			continue
		}
		m.logger.Info("WebRTC outbound connection established", "peer", answer.Peer)
	}
}

// expireOffers drops outbound PeerConnections whose offer went
// unanswered, so discovery retries them.
func (m *Mesh) expireOffers() {
	var stale []*peerState
	m.mu.Lock()
	for _, peer := range m.peers {
		if !peer.offeredAt.IsZero() && time.Since(peer.offeredAt) > answerTimeout {
			stale = append(stale, peer)
		}
	}
	m.mu.Unlock()
	for _, peer := range stale {
		m.logger.Warn("WebRTC offer unanswered", "peer", peer.id, "timeout", answerTimeout)
		m.drop(peer)
	}
}

// processInboundOffers checks for new SDP offers and answers them.
func (m *Mesh) processInboundOffers(ctx context.Context) {
	offers, err := m.signaler.PollOffers(ctx, m.id)
	if err != nil {
		m.logger.Warn("polling for SDP offers failed", "error", err)
		return
	}

	for _, offer := range offers {
		m.mu.Lock()
		existing, hasExisting := m.peers[offer.Peer]
		m.mu.Unlock()

		if hasExisting {
			state := existing.connection.ICEConnectionState()
			alive := state != webrtc.ICEConnectionStateFailed && state != webrtc.ICEConnectionStateClosed
			// The smaller id is the canonical offerer: keep our own
			// attempt when that is us.
			if alive && offer.Peer > m.id {
				continue
			}
			m.drop(existing)
		}

		if err := m.answerOffer(ctx, offer); err != nil {
			m.logger.Error("answering WebRTC offer failed",
				"peer", offer.Peer,
				"error", err,
			)
		}
	}
}

// answerOffer creates a PeerConnection in response to an incoming SDP offer.
func (m *Mesh) answerOffer(ctx context.Context, offer SignalMessage) error {
	pc, err := m.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating PeerConnection: %w", err)
	}

	peer := &peerState{connection: pc, id: offer.Peer}
	m.wire(peer)

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		pc.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating SDP answer: %w", err)
	}
	sdp, err := m.gather(ctx, pc, answer)
	if err != nil {
		pc.Close()
		return err
	}

	m.mu.Lock()
	m.peers[offer.Peer] = peer
	m.mu.Unlock()

	if err := m.signaler.PublishAnswer(ctx, offer.Peer, m.id, sdp); err != nil {
		m.drop(peer)
		return fmt.Errorf("publishing SDP answer: %w", err)
	}

	m.logger.Info("WebRTC inbound connection answered", "peer", offer.Peer)
	return nil
}

// gather sets the local description and waits for ICE gathering to
// complete (vanilla ICE), returning the SDP with every candidate.
func (m *Mesh) gather(ctx context.Context, pc *webrtc.PeerConnection, description webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(description); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	timer := time.NewTimer(iceGatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		return "", fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.closed:
		return "", ErrMeshClosed
	}
	return pc.LocalDescription().SDP, nil
}

// wire registers the PeerConnection callbacks shared by both
// directions.
func (m *Mesh) wire(peer *peerState) {
	peer.connection.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != channelLabel {
			m.logger.Debug("ignoring unexpected data channel", "peer", peer.id, "label", dc.Label())
			return
		}
		m.attach(peer, dc)
	})
	peer.connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		m.handleICEStateChange(peer, state)
	})
}

// attach hooks a data channel's lifecycle and messages to peer.
func (m *Mesh) attach(peer *peerState, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		m.mu.Lock()
		peer.channel = dc
		m.mu.Unlock()
		m.logger.Info("mesh data channel opened", "peer", peer.id)
	})
	dc.OnClose(func() {
		m.mu.Lock()
		if peer.channel == dc {
			peer.channel = nil
		}
		m.mu.Unlock()
		m.logger.Debug("mesh data channel closed", "peer", peer.id)
	})
	dc.OnMessage(func(message webrtc.DataChannelMessage) {
		m.onMessage(peer.id, message.Data)
	})
}

// handleICEStateChange removes peers whose connection failed or closed
// so discovery can re-establish them.
func (m *Mesh) handleICEStateChange(peer *peerState, state webrtc.ICEConnectionState) {
	m.logger.Debug("ICE state change",
		"peer", peer.id,
		"state", state.String(),
	)

	switch state {
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		m.mu.Lock()
		if current, ok := m.peers[peer.id]; ok && current == peer {
			delete(m.peers, peer.id)
		}
		m.mu.Unlock()
		if state == webrtc.ICEConnectionStateFailed {
			m.logger.Warn("WebRTC connection failed, will re-establish on discovery", "peer", peer.id)
			// Close from a fresh goroutine: pion invokes this callback
			// on its own agent goroutine.
			go peer.connection.Close()
		}
	}
}

// drop closes peer's PeerConnection and forgets it if still current.
func (m *Mesh) drop(peer *peerState) {
	m.mu.Lock()
	if current, ok := m.peers[peer.id]; ok && current == peer {
		delete(m.peers, peer.id)
	}
	m.mu.Unlock()
	peer.connection.Close()
}

// newPeerConnection creates a pion PeerConnection with the ICE config.
func (m *Mesh) newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers: m.iceConfig.Servers,
	}

	// Loopback candidates are required for same-machine peers and test
	// environments where loopback is the only available interface.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}
