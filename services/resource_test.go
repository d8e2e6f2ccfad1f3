// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/liaport/event"
)

func newResource(t *testing.T, maxBytes int64) (*Resource, *outbox, string) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/style.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		w.Write([]byte("body { color: red }"))
	})
	mux.HandleFunc("/logo.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0xff, 0xfe, 0x00})
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	resource := NewResource(ResourceConfig{Timeout: 200 * time.Millisecond, MaxBytes: maxBytes, HTTPClient: server.Client()})
	out := newOutbox()
	if err := resource.Init(out.send, nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return resource, out, server.URL
}

func load(t *testing.T, resource *Resource, out *outbox, url string) Fetched {
	t.Helper()
	handle(t, resource, request(event.Resource, "load", `{"url":"`+url+`"}`))
	return decodeParam[Fetched](t, out.next(t, "load answer"))
}

func TestResourceLoad(t *testing.T) {
	resource, out, base := newResource(t, 1024)

	text := load(t, resource, out, base+"/style.css")
	if !text.OK || text.Data != "body { color: red }" || text.Encoding != "" || text.ContentType != "text/css" {
		t.Errorf("text resource = %+v", text)
	}

	binary := load(t, resource, out, base+"/logo.bin")
	if !binary.OK || binary.Encoding != "base64" || binary.Data != base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0x00}) {
		t.Errorf("binary resource = %+v", binary)
	}

	missing := load(t, resource, out, base+"/missing")
	if missing.OK || missing.Status != http.StatusNotFound {
		t.Errorf("missing resource = %+v", missing)
	}
}

func TestResourceLimits(t *testing.T) {
	resource, out, base := newResource(t, 4)

	if large := load(t, resource, out, base+"/style.css"); large.OK || !strings.Contains(large.Error, "size limit") {
		t.Errorf("oversized resource = %+v", large)
	}
	if slow := load(t, resource, out, base+"/slow"); slow.OK || slow.Error == "" {
		t.Errorf("slow resource = %+v", slow)
	}
	if local := load(t, resource, out, "file:///etc/passwd"); local.OK || local.Data != "" {
		t.Errorf("file resource = %+v", local)
	}
}
