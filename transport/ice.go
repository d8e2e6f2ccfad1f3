// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEConfig holds ICE server configuration for WebRTC PeerConnections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) to use during
	// candidate gathering. Order matters: pion tries them in sequence.
	Servers []webrtc.ICEServer
}

// ICEServer is the JSON form of one ICE server in a backend config.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// NewICEConfig validates servers and converts them for pion. An empty
// list yields host candidates only, which is sufficient for
// same-machine and same-LAN peers.
func NewICEConfig(servers []ICEServer) (ICEConfig, error) {
	var config ICEConfig
	for index, server := range servers {
		if len(server.URLs) == 0 {
			return ICEConfig{}, fmt.Errorf("transport: ice server %d has no urls", index)
		}
		for _, url := range server.URLs {
			if !strings.HasPrefix(url, "stun:") && !strings.HasPrefix(url, "stuns:") &&
				!strings.HasPrefix(url, "turn:") && !strings.HasPrefix(url, "turns:") {
				return ICEConfig{}, fmt.Errorf("transport: ice server %d: unsupported url %q", index, url)
			}
		}
		config.Servers = append(config.Servers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	return config, nil
}
