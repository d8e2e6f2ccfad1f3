// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/liaport/lib/testutil"
)

// echoServer upgrades every request and echoes messages back.
func echoServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConn_Echo(t *testing.T) {
	received := make(chan string, 4)
	conn, err := Dial(context.Background(), Config{
		URL: echoServer(t),
		OnMessage: func(_ int, data []byte) {
			received <- string(data)
		},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ctx) }()

	if err := conn.SendJSON(map[string]int{"n": 1}); err != nil {
		t.Fatalf("SendJSON: %v", err)
	}
	if err := conn.Send(websocket.TextMessage, []byte("plain")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := testutil.RequireReceive(t, received, 5*time.Second, "first echo"); got != `{"n":1}` {
		t.Errorf("first echo = %q", got)
	}
	if got := testutil.RequireReceive(t, received, 5*time.Second, "second echo"); got != "plain" {
		t.Errorf("second echo = %q", got)
	}

	conn.Close()
	if err := testutil.RequireReceive(t, runErr, 5*time.Second, "Run to return"); err != nil {
		t.Errorf("Run after Close = %v, want nil", err)
	}
	if err := conn.Send(websocket.TextMessage, []byte("late")); err != ErrClosed {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestConn_ServerGoesAway(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	conn, err := Dial(context.Background(), Config{URL: "ws" + strings.TrimPrefix(server.URL, "http")})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(context.Background()) }()
	if err := testutil.RequireReceive(t, runErr, 5*time.Second, "Run to return"); err == nil {
		t.Error("Run returned nil after abrupt server close")
	}
	testutil.RequireClosed(t, conn.Done(), time.Second, "Done after Run")
}

func TestDial_Refused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	_, err := Dial(context.Background(), Config{URL: "ws" + strings.TrimPrefix(server.URL, "http")})
	if err == nil {
		t.Fatal("Dial to non-websocket endpoint succeeded")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q lacks status", err)
	}
}
