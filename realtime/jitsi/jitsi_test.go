// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jitsi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/clock"
	"github.com/bureau-foundation/liaport/lib/testutil"
	"github.com/bureau-foundation/liaport/realtime"
)

// fakeBridge accepts bridge channels, greets each with ServerHello
// and relays broadcast endpoint messages to every other endpoint.
type fakeBridge struct {
	t        *testing.T
	upgrader websocket.Upgrader
	hello    bool

	mu        sync.Mutex
	endpoints map[string]*websocket.Conn
	relayed   []Message
}

func newFakeBridge(t *testing.T, hello bool) (*fakeBridge, string) {
	bridge := &fakeBridge{t: t, hello: hello, endpoints: make(map[string]*websocket.Conn)}
	server := httptest.NewServer(bridge)
	t.Cleanup(server.Close)
	return bridge, "ws" + strings.TrimPrefix(server.URL, "http") + "/colibri-ws/jvb1/conf1"
}

func (b *fakeBridge) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	conn, err := b.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		b.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	endpoint := path.Base(request.URL.Path)

	b.mu.Lock()
	b.endpoints[endpoint] = conn
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.endpoints, endpoint)
		b.mu.Unlock()
	}()

	if b.hello {
		b.mu.Lock()
		conn.WriteJSON(Message{ColibriClass: ClassServerHello})
		b.mu.Unlock()
	}

	for {
		var message Message
		if err := conn.ReadJSON(&message); err != nil {
			return
		}
		if message.ColibriClass != ClassEndpointMessage {
			continue
		}
		message.From = endpoint
		b.mu.Lock()
		b.relayed = append(b.relayed, message)
		for id, peer := range b.endpoints {
			if id != endpoint {
				peer.WriteJSON(message)
			}
		}
		b.mu.Unlock()
	}
}

type recorder struct {
	ready     chan struct{}
	failed    chan error
	delivered chan event.Event
	readyOnce sync.Once
}

func newRecorder() *recorder {
	return &recorder{
		ready:     make(chan struct{}),
		failed:    make(chan error, 1),
		delivered: make(chan event.Event, 8),
	}
}

func (r *recorder) callbacks() realtime.Callbacks {
	return realtime.Callbacks{
		Ready:   func() { r.readyOnce.Do(func() { close(r.ready) }) },
		Failed:  func(err error) { r.failed <- err },
		Deliver: func(ev event.Event) { r.delivered <- ev },
	}
}

func connect(t *testing.T, url string) (*Adapter, *recorder) {
	t.Helper()
	adapter := New(Options{})
	events := newRecorder()
	config := json.RawMessage(fmt.Sprintf(`{"url":%q}`, url))
	if err := adapter.Connect(context.Background(), config, events.callbacks()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(adapter.Disconnect)
	return adapter, events
}

func TestAdapter_EndpointMessageRelay(t *testing.T) {
	bridge, base := newFakeBridge(t, true)
	alice, aliceEvents := connect(t, base+"/alice")
	_, bobEvents := connect(t, base+"/bob")

	testutil.RequireClosed(t, aliceEvents.ready, 5*time.Second, "alice ready")
	testutil.RequireClosed(t, bobEvents.ready, 5*time.Second, "bob ready")

	ev, err := event.New(event.Sync, "input", map[string]bool{"done": true})
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	if err := alice.Publish(ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := testutil.RequireReceive(t, bobEvents.delivered, 5*time.Second, "bob delivery")
	if got.Message.Cmd != "input" || string(got.Message.Param) != `{"done":true}` {
		t.Errorf("bob received %+v", got.Message)
	}
	testutil.RequireNoReceive(t, aliceEvents.delivered, 200*time.Millisecond, "alice echo")

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if len(bridge.relayed) != 1 || bridge.relayed[0].To != "" {
		t.Errorf("relayed = %+v, want one broadcast", bridge.relayed)
	}
}

func TestAdapter_IgnoresForeignEndpointMessages(t *testing.T) {
	_, base := newFakeBridge(t, true)
	_, events := connect(t, base+"/alice")
	testutil.RequireClosed(t, events.ready, 5*time.Second, "ready")

	foreign, _, err := websocket.DefaultDialer.Dial(base+"/other", nil)
	if err != nil {
		t.Fatalf("dialing bridge: %v", err)
	}
	defer foreign.Close()
	foreign.WriteJSON(Message{
		ColibriClass: ClassEndpointMessage,
		MsgPayload:   json.RawMessage(`{"type":"e2e-ping"}`),
	})
	foreign.WriteJSON(Message{
		ColibriClass: ClassEndpointMessage,
		MsgPayload:   json.RawMessage(`{"liaport":"%%%"}`),
	})
	testutil.RequireNoReceive(t, events.delivered, 300*time.Millisecond, "foreign message delivery")
}

func TestAdapter_NotReadyWithoutHello(t *testing.T) {
	_, base := newFakeBridge(t, false)
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	adapter := New(Options{Clock: fake})
	events := newRecorder()
	config := json.RawMessage(fmt.Sprintf(`{"url":%q}`, base+"/alice"))
	if err := adapter.Connect(context.Background(), config, events.callbacks()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(adapter.Disconnect)

	select {
	case <-events.ready:
		t.Fatal("ready before ServerHello")
	case <-time.After(200 * time.Millisecond):
	}

	fake.Advance(realtime.DefaultReadyTimeout)
	err := testutil.RequireReceive(t, events.failed, 5*time.Second, "failure after the ready deadline")
	if !errors.Is(err, realtime.ErrReadyTimeout) {
		t.Errorf("failure = %v, want ErrReadyTimeout", err)
	}
}

func TestAdapter_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	_, events := connect(t, "ws"+strings.TrimPrefix(server.URL, "http")+"/colibri-ws/x/y/z")
	err := testutil.RequireReceive(t, events.failed, 5*time.Second, "failure")
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("failure = %v, want status 404", err)
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(json.RawMessage(`{"url":"wss://meet.example.org/colibri-ws/jvb1/c1/ep7?pwd=x"}`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Endpoint != "ep7" {
		t.Errorf("Endpoint = %q, want ep7", cfg.Endpoint)
	}

	for _, raw := range []string{``, `{}`, `{"url":"https://meet.example.org"}`, `{"url":"wss://x/y","compression":"brotli"}`} {
		if _, err := ParseConfig(json.RawMessage(raw)); err == nil {
			t.Errorf("ParseConfig(%s) succeeded", raw)
		}
	}
}
