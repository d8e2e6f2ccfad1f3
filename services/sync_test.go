// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/realtime"
)

// loopAdapter is ready as soon as it connects and records what it is
// given.
type loopAdapter struct {
	mu        sync.Mutex
	config    json.RawMessage
	published []event.Event
	closed    bool
	callbacks realtime.Callbacks
}

func (a *loopAdapter) Connect(_ context.Context, config json.RawMessage, callbacks realtime.Callbacks) error {
	a.mu.Lock()
	a.config, a.callbacks = config, callbacks
	a.mu.Unlock()
	callbacks.Ready()
	return nil
}

func (a *loopAdapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

func (a *loopAdapter) Publish(ev event.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.published = append(a.published, ev)
	return nil
}

type syncFixture struct {
	service  *Sync
	out      *outbox
	adapters []*loopAdapter
}

func newSyncFixture(t *testing.T, allow bool) *syncFixture {
	t.Helper()
	fixture := &syncFixture{out: newOutbox()}
	factory := func() realtime.Adapter {
		adapter := &loopAdapter{}
		fixture.adapters = append(fixture.adapters, adapter)
		return adapter
	}
	fixture.service = NewSync(SyncConfig{
		Allow:     allow,
		Factories: map[realtime.Backend]realtime.Factory{realtime.Gun: factory, realtime.Matrix: factory},
		Defaults: func(tag string) (json.RawMessage, error) {
			return json.RawMessage(`{"default":"` + tag + `"}`), nil
		},
	})
	if err := fixture.service.Init(fixture.out.send, nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return fixture
}

func TestSyncConnectPublishDisconnect(t *testing.T) {
	fixture := newSyncFixture(t, true)
	handle(t, fixture.service, request(event.Sync, "connect", `{"backend":"gun","config":{"room":"r"}}`))

	status := fixture.out.next(t, "connect status")
	if status.Message.Cmd != "connect" || decodeParam[map[string]any](t, status)["ok"] != true {
		t.Fatalf("status = %+v", status)
	}
	if state, backend := fixture.service.Status(); state != realtime.Connected || backend != realtime.Gun {
		t.Errorf("Status = %s, %s", state, backend)
	}
	adapter := fixture.adapters[0]
	if string(adapter.config) != `{"room":"r"}` {
		t.Errorf("adapter config = %s", adapter.config)
	}

	handle(t, fixture.service, request(event.Sync, "input", `{"id":3,"value":"x"}`))
	if len(adapter.published) != 1 || adapter.published[0].Message.Cmd != "input" {
		t.Errorf("published = %+v", adapter.published)
	}

	remote, _ := event.New(event.Sync, "input", map[string]int{"id": 4})
	remote.Reply = false
	adapter.callbacks.Deliver(remote)
	if delivered := fixture.out.next(t, "delivered event"); !delivered.Reply || delivered.Message.Cmd != "input" {
		t.Errorf("delivered = %+v", delivered)
	}

	handle(t, fixture.service, request(event.Sync, "disconnect", ""))
	if status := fixture.out.next(t, "disconnect status"); status.Message.Cmd != "disconnect" {
		t.Errorf("status = %+v", status)
	}
	if !adapter.closed {
		t.Error("adapter not disconnected")
	}
}

func TestSyncConnectUsesDefaults(t *testing.T) {
	fixture := newSyncFixture(t, true)
	handle(t, fixture.service, request(event.Sync, "connect", `{"backend":"matrix","config":null}`))
	if got := string(fixture.adapters[0].config); got != `{"default":"matrix"}` {
		t.Errorf("config = %s", got)
	}

	// A second connect replaces the first session.
	handle(t, fixture.service, request(event.Sync, "connect", `{"backend":"gun"}`))
	if !fixture.adapters[0].closed || fixture.adapters[1].closed {
		t.Error("switching backends did not replace the session")
	}
	fixture.service.Close()
	if !fixture.adapters[1].closed {
		t.Error("Close left the session open")
	}
}

func TestSyncPublishWithoutSession(t *testing.T) {
	fixture := newSyncFixture(t, true)
	handle(t, fixture.service, request(event.Sync, "input", `{"id":1}`))
	fixture.out.none(t, "events without a session")

	err := fixture.service.Handle(context.Background(), request(event.Sync, "connect", `{"backend":"carrier-pigeon"}`))
	if !errors.Is(err, realtime.ErrUnknownBackend) {
		t.Errorf("unknown backend: %v", err)
	}
}

func TestSyncSupported(t *testing.T) {
	if got := newSyncFixture(t, false).service.Supported(); len(got) != 0 {
		t.Errorf("Supported with sync disallowed = %v", got)
	}
	allowed := newSyncFixture(t, true).service.Supported()
	if !slices.Equal(allowed, []realtime.Backend{realtime.Gun, realtime.Jitsi, realtime.Matrix, realtime.Pubnub}) {
		t.Errorf("Supported = %v", allowed)
	}

	disallowed := newSyncFixture(t, false)
	err := disallowed.service.Handle(context.Background(), request(event.Sync, "connect", `{"backend":"gun"}`))
	if err == nil || len(disallowed.adapters) != 0 {
		t.Errorf("connect with sync disallowed: %v", err)
	}
}
