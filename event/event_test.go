// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/bureau-foundation/liaport/lib/testutil"
)

func TestDecodeEngineEvent(t *testing.T) {
	ev, err := Decode([]byte(`{
		"track": [["quiz", 3], ["eval", null], {"topic": "input", "id": 7}],
		"service": "script",
		"message": {"cmd": "eval", "param": {"code": "1+1"}}
	}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Service != Script || ev.Message.Cmd != "eval" {
		t.Errorf("got %s/%s", ev.Service, ev.Message.Cmd)
	}
	want := Track{{"quiz", 3}, {"eval", NoID}, {"input", 7}}
	if len(ev.Track) != len(want) {
		t.Fatalf("track = %v", ev.Track)
	}
	for i := range want {
		if ev.Track[i] != want[i] {
			t.Errorf("step %d = %+v, want %+v", i, ev.Track[i], want[i])
		}
	}
	var param struct{ Code string }
	if err := ev.Message.Decode(&param); err != nil || param.Code != "1+1" {
		t.Errorf("param = %+v, %v", param, err)
	}
}

func TestDecodeUnknownServiceSurvives(t *testing.T) {
	ev, err := Decode([]byte(`{"track":[],"service":"holodeck","message":{"cmd":"x"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Service.Valid() {
		t.Errorf("%q reported valid", ev.Service)
	}
}

func TestOpaqueMessage(t *testing.T) {
	ev, err := Decode([]byte(`{"track":null,"service":"console","message":"plain text"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Message.Cmd != "" || string(ev.Message.Param) != `"plain text"` {
		t.Errorf("message = %+v", ev.Message)
	}
	if ev.Track == nil {
		t.Error("null track should decode as empty, not nil")
	}
}

func TestEncodeTrackAsPairs(t *testing.T) {
	ev := Event{Reply: true, Track: Track{{"slide", 4}}, Service: Slide, Message: Message{Cmd: "goto"}}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"reply":true,"track":[["slide",4]],"service":"slide","message":{"cmd":"goto"}}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}

func TestAnswerPreservesRouting(t *testing.T) {
	request := Event{Track: Track{{"code", 1}}, Service: Script, Message: Message{Cmd: "eval", Param: json.RawMessage(`"1+1"`)}}
	answer, err := request.Answer(map[string]any{"ok": true, "result": "2"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !answer.Reply || answer.Service != Script || answer.Message.Cmd != "eval" {
		t.Errorf("answer = %+v", answer)
	}
	if string(answer.Message.Param) != `{"ok":true,"result":"2"}` {
		t.Errorf("param = %s", answer.Message.Param)
	}
	answer.Track[0].ID = 99
	if request.Track[0].ID != 1 {
		t.Error("Answer shares the request's track")
	}
}

func TestParseTopic(t *testing.T) {
	for _, topic := range Topics() {
		parsed, err := ParseTopic(string(topic))
		if err != nil || parsed != topic {
			t.Errorf("ParseTopic(%q) = %q, %v", topic, parsed, err)
		}
	}
	if _, err := ParseTopic("SLIDE"); err == nil {
		t.Error("topic matching is case-sensitive")
	}
	if Topics()[0] != Database {
		t.Errorf("first topic = %s, want database", Topics()[0])
	}
}

func TestOutboundDropsNonReplies(t *testing.T) {
	recorder := testutil.NewLogRecorder()
	var mu sync.Mutex
	var written []Event
	send := Outbound(func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		written = append(written, ev)
		return nil
	}, recorder.Logger())

	send(Event{Reply: false, Service: Slide})
	send(Event{Reply: true, Service: TTS})

	if len(written) != 1 || written[0].Service != TTS {
		t.Fatalf("written = %+v", written)
	}
	if recorder.Count("suppressed non-reply event") != 1 {
		t.Error("suppression was not logged")
	}
}

func TestOutboundLogsWriteFailure(t *testing.T) {
	recorder := testutil.NewLogRecorder()
	send := Outbound(func(Event) error { return errors.New("pipe closed") }, recorder.Logger())
	send(Event{Reply: true, Service: Console})
	if recorder.Count("writing event to engine failed") != 1 {
		t.Error("write failure not logged")
	}
}

func TestNoIDEncodesAsNull(t *testing.T) {
	data, err := json.Marshal(Track{{"reset", NoID}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `[["reset",null]]` {
		t.Errorf("got %s", data)
	}
}
