// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "testing"

func TestNewICEConfig_Empty(t *testing.T) {
	config, err := NewICEConfig(nil)
	if err != nil {
		t.Fatalf("NewICEConfig(nil): %v", err)
	}
	if len(config.Servers) != 0 {
		t.Errorf("expected no ICE servers, got %d", len(config.Servers))
	}
}

func TestNewICEConfig_WithCredentials(t *testing.T) {
	config, err := NewICEConfig([]ICEServer{
		{URLs: []string{"stun:stun.example.org:3478"}},
		{
			URLs:       []string{"turn:turn.example.org:3478?transport=udp", "turns:turn.example.org:5349"},
			Username:   "1234:user",
			Credential: "secret",
		},
	})
	if err != nil {
		t.Fatalf("NewICEConfig: %v", err)
	}
	if len(config.Servers) != 2 {
		t.Fatalf("expected 2 ICE server entries, got %d", len(config.Servers))
	}
	server := config.Servers[1]
	if len(server.URLs) != 2 {
		t.Errorf("expected 2 URLs, got %d", len(server.URLs))
	}
	if server.Username != "1234:user" {
		t.Errorf("username = %q, want %q", server.Username, "1234:user")
	}
	if server.Credential != "secret" {
		t.Errorf("credential = %v, want %q", server.Credential, "secret")
	}
}

func TestNewICEConfig_Invalid(t *testing.T) {
	for name, servers := range map[string][]ICEServer{
		"no urls": {{Username: "user"}},
		"scheme":  {{URLs: []string{"http://example.org"}}},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := NewICEConfig(servers); err == nil {
				t.Error("NewICEConfig accepted invalid servers")
			}
		})
	}
}
