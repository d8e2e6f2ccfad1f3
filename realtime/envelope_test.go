// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/clock"
	"github.com/bureau-foundation/liaport/lib/codec"
	"github.com/bureau-foundation/liaport/lib/compress"
)

func syncEvent(cmd string, param string) event.Event {
	return event.Event{
		Track:   event.Track{{Topic: "quiz", ID: 1}},
		Service: event.Sync,
		Message: event.Message{Cmd: cmd, Param: json.RawMessage(param)},
	}
}

func pair(options Options) (*Codec, *Codec) {
	fake := clock.Fake(time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC))
	return NewCodec("alice", options, fake), NewCodec("bob", options, fake)
}

func TestCodecDelivery(t *testing.T) {
	for _, options := range []Options{
		{},
		{Compression: "lz4"},
		{Compression: "zstd", Secret: "correct horse"},
	} {
		alice, bob := pair(options)
		long := `{"state":"` + strings.Repeat("abcd", 400) + `"}`
		data, err := alice.Pack(syncEvent("code", long))
		if err != nil {
			t.Fatalf("Pack(%+v): %v", options, err)
		}

		ev, ok, err := bob.Receive(data)
		if err != nil || !ok {
			t.Fatalf("Receive(%+v) = %v, %v", options, ok, err)
		}
		if ev.Message.Cmd != "code" || string(ev.Message.Param) != long {
			t.Errorf("received %+v", ev.Message)
		}
		if ev.Track[0].Topic != "quiz" {
			t.Errorf("track lost: %v", ev.Track)
		}
	}
}

func TestCodecDropsEchoAndDuplicates(t *testing.T) {
	alice, bob := pair(Options{})
	data, err := alice.Pack(syncEvent("quiz", `{}`))
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, ok, err := alice.Receive(data); ok || err != nil {
		t.Errorf("own echo: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := bob.Receive(data); !ok {
		t.Fatal("first copy dropped")
	}
	if _, ok, err := bob.Receive(data); ok || err != nil {
		t.Errorf("duplicate: ok=%v err=%v", ok, err)
	}
}

func TestCodecRejectsTampering(t *testing.T) {
	alice, bob := pair(Options{})
	envelope, err := alice.Seal(syncEvent("quiz", `{"a":1}`))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	envelope.Body = bytes.Replace(envelope.Body, []byte(`"a":1`), []byte(`"a":2`), 1)
	data, _ := codec.Marshal(envelope)
	if _, ok, err := bob.Receive(data); ok || err == nil {
		t.Errorf("tampered envelope accepted: ok=%v err=%v", ok, err)
	}
}

func TestCodecSealedWithoutSecret(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	sender := NewCodec("alice", Options{Secret: "s3cret"}, fake)
	receiver := NewCodec("bob", Options{}, fake)
	text, err := sender.PackText(syncEvent("quiz", `{}`))
	if err != nil {
		t.Fatalf("PackText: %v", err)
	}
	if _, _, err := receiver.ReceiveText(text); err == nil {
		t.Error("sealed envelope opened without a secret")
	}
}

func TestSmallBodiesStayUncompressed(t *testing.T) {
	alice, _ := pair(Options{})
	envelope, err := alice.Seal(syncEvent("quiz", `{}`))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if envelope.Codec != compress.None || envelope.Sealed {
		t.Errorf("envelope = codec %s sealed %v", envelope.Codec, envelope.Sealed)
	}
	var decoded event.Event
	if err := json.Unmarshal(envelope.Body, &decoded); err != nil || decoded.Reply {
		t.Errorf("body %s: %v", envelope.Body, err)
	}
}

func TestParseOptions(t *testing.T) {
	options, err := ParseOptions(json.RawMessage(`{"secret":"x","compression":"zstd","room":"r"}`))
	if err != nil || options.Secret != "x" || options.Compression != "zstd" {
		t.Errorf("ParseOptions = %+v, %v", options, err)
	}
	if _, err := ParseOptions(json.RawMessage(`{"compression":"brotli"}`)); err == nil {
		t.Error("unknown compression accepted")
	}
	if options, err := ParseOptions(nil); err != nil || options != (Options{}) {
		t.Errorf("empty config = %+v, %v", options, err)
	}
}
