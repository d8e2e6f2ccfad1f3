// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/testutil"
	"github.com/bureau-foundation/liaport/messaging"
	"github.com/bureau-foundation/liaport/realtime"
)

const testRoomID = "!course:local"

// fakeHomeserver serves a single room. Sync batch tokens are timeline
// lengths.
type fakeHomeserver struct {
	t *testing.T

	mu       sync.Mutex
	timeline []messaging.Event
	changed  chan struct{}
	tokens   map[string]string // access token -> user ID
	logouts  int
}

func newFakeHomeserver(t *testing.T) (*fakeHomeserver, *httptest.Server) {
	fake := &fakeHomeserver{
		t:       t,
		changed: make(chan struct{}),
		tokens:  map[string]string{"static-token": "@static:local"},
	}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return fake, server
}

func (f *fakeHomeserver) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	path := strings.TrimPrefix(request.URL.EscapedPath(), "/_matrix/client/v3")

	if path == "/login" {
		var login messaging.LoginRequest
		json.NewDecoder(request.Body).Decode(&login)
		if login.Password != "secret" {
			matrixError(writer, http.StatusForbidden, messaging.ErrCodeForbidden)
			return
		}
		userID := "@" + login.Identifier.User + ":local"
		token := "token-" + login.Identifier.User
		f.mu.Lock()
		f.tokens[token] = userID
		f.mu.Unlock()
		writeJSON(writer, messaging.AuthResponse{UserID: userID, AccessToken: token, DeviceID: "DEV"})
		return
	}

	token := strings.TrimPrefix(request.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	userID, ok := f.tokens[token]
	f.mu.Unlock()
	if !ok {
		matrixError(writer, http.StatusUnauthorized, messaging.ErrCodeUnknownToken)
		return
	}

	switch {
	case path == "/account/whoami":
		writeJSON(writer, messaging.WhoAmIResponse{UserID: userID})

	case path == "/logout":
		f.mu.Lock()
		delete(f.tokens, token)
		f.logouts++
		f.mu.Unlock()
		writeJSON(writer, struct{}{})

	case strings.HasPrefix(path, "/directory/room/"):
		if strings.HasSuffix(path, "%23course:local") || strings.HasSuffix(path, "#course:local") {
			writeJSON(writer, messaging.ResolveAliasResponse{RoomID: testRoomID})
			return
		}
		matrixError(writer, http.StatusNotFound, messaging.ErrCodeNotFound)

	case strings.HasPrefix(path, "/join/"):
		writeJSON(writer, map[string]string{"room_id": testRoomID})

	case strings.HasPrefix(path, "/rooms/") && request.Method == http.MethodPut:
		body, _ := io.ReadAll(request.Body)
		f.mu.Lock()
		eventID := fmt.Sprintf("$%d", len(f.timeline))
		f.timeline = append(f.timeline, messaging.Event{
			EventID: eventID,
			Type:    EventType,
			Sender:  userID,
			Content: body,
		})
		close(f.changed)
		f.changed = make(chan struct{})
		f.mu.Unlock()
		writeJSON(writer, messaging.SendEventResponse{EventID: eventID})

	case path == "/sync":
		f.sync(writer, request)

	default:
		f.t.Errorf("unexpected request %s %s", request.Method, request.URL)
		matrixError(writer, http.StatusNotFound, messaging.ErrCodeUnknown)
	}
}

func (f *fakeHomeserver) sync(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	since, _ := strconv.Atoi(query.Get("since"))
	timeout, _ := strconv.Atoi(query.Get("timeout"))
	deadline := time.After(time.Duration(min(timeout, 1000)) * time.Millisecond)

	for {
		f.mu.Lock()
		count := len(f.timeline)
		pending := append([]messaging.Event(nil), f.timeline[min(since, count):]...)
		changed := f.changed
		f.mu.Unlock()

		// The initial sync only establishes a position.
		if query.Get("since") == "" {
			pending = nil
		}
		if len(pending) > 0 || timeout == 0 {
			response := messaging.SyncResponse{NextBatch: strconv.Itoa(count)}
			if len(pending) > 0 {
				response.Rooms.Join = map[string]messaging.JoinedRoom{
					testRoomID: {Timeline: messaging.TimelineSection{Events: pending}},
				}
			}
			writeJSON(writer, response)
			return
		}
		select {
		case <-changed:
		case <-deadline:
			writeJSON(writer, messaging.SyncResponse{NextBatch: strconv.Itoa(count)})
			return
		case <-request.Context().Done():
			return
		}
	}
}

func (f *fakeHomeserver) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logouts
}

func matrixError(writer http.ResponseWriter, status int, code string) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(map[string]string{"errcode": code, "error": code})
}

func writeJSON(writer http.ResponseWriter, v any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(v)
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

func connect(t *testing.T, config string) (*Adapter, *recorder) {
	t.Helper()
	adapter := New(Options{PollTimeout: 500})
	events := newRecorder()
	if err := adapter.Connect(context.Background(), json.RawMessage(config), events.callbacks()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(adapter.Disconnect)
	return adapter, events
}

func TestAdapter_RoomRoundTrip(t *testing.T) {
	_, server := newFakeHomeserver(t)

	alice, aliceEvents := connect(t, fmt.Sprintf(
		`{"homeserver":%q,"user":"alice","password":"secret","room":"#course:local"}`, server.URL))
	_, bobEvents := connect(t, fmt.Sprintf(
		`{"homeserver":%q,"accessToken":"static-token","room":%q}`, server.URL, testRoomID))

	testutil.RequireClosed(t, aliceEvents.ready, 5*time.Second, "alice ready")
	testutil.RequireClosed(t, bobEvents.ready, 5*time.Second, "bob ready")

	ev, err := event.New(event.Sync, "input", map[string]string{"id": "q1"})
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	if err := alice.Publish(ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := testutil.RequireReceive(t, bobEvents.delivered, 5*time.Second, "bob delivery")
	if got.Service != event.Sync || got.Message.Cmd != "input" {
		t.Errorf("bob received %+v", got)
	}
	testutil.RequireNoReceive(t, aliceEvents.delivered, 300*time.Millisecond, "alice must not receive her own event")
}

func TestAdapter_LogsOutOwnSession(t *testing.T) {
	fake, server := newFakeHomeserver(t)
	adapter, events := connect(t, fmt.Sprintf(
		`{"homeserver":%q,"user":"alice","password":"secret","room":%q}`, server.URL, testRoomID))
	testutil.RequireClosed(t, events.ready, 5*time.Second, "ready")

	adapter.Disconnect()
	deadline := time.Now().Add(5 * time.Second)
	for fake.logoutCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("password session was not logged out after Disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAdapter_Failures(t *testing.T) {
	tests := []struct {
		name   string
		config string
		code   string
	}{
		{"wrong password", `{"homeserver":%q,"user":"alice","password":"nope","room":"!course:local"}`, messaging.ErrCodeForbidden},
		{"unknown token", `{"homeserver":%q,"accessToken":"stale","room":"!course:local"}`, messaging.ErrCodeUnknownToken},
		{"unknown alias", `{"homeserver":%q,"accessToken":"static-token","room":"#missing:local"}`, messaging.ErrCodeNotFound},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, server := newFakeHomeserver(t)
			_, events := connect(t, fmt.Sprintf(test.config, server.URL))
			err := testutil.RequireReceive(t, events.failed, 5*time.Second, "failure callback")
			if !messaging.IsMatrixError(err, test.code) {
				t.Errorf("failure = %v, want %s", err, test.code)
			}
			select {
			case <-events.ready:
				t.Error("ready fired for a failed session")
			default:
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"password", `{"homeserver":"https://m.org","user":"u","password":"p","room":"!r:m.org"}`, false},
		{"token", `{"homeserver":"https://m.org","accessToken":"t","room":"#r:m.org"}`, false},
		{"no credentials", `{"homeserver":"https://m.org","user":"u","room":"!r:m.org"}`, true},
		{"no room", `{"homeserver":"https://m.org","accessToken":"t"}`, true},
		{"no homeserver", `{"accessToken":"t","room":"!r:m.org"}`, true},
		{"empty", ``, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseConfig(json.RawMessage(test.raw))
			if (err != nil) != test.wantErr {
				t.Errorf("ParseConfig error = %v, wantErr %v", err, test.wantErr)
			}
		})
	}
}
