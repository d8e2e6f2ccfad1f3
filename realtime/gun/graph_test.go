// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gun

import (
	"encoding/json"
	"slices"
	"testing"
)

func put(t *testing.T, graph *Graph, soul, field, value string, state float64) []string {
	t.Helper()
	node, err := EncodeNode(soul, state, map[string]json.RawMessage{field: json.RawMessage(value)})
	if err != nil {
		t.Fatalf("EncodeNode: %v", err)
	}
	changed, err := graph.Merge(soul, node)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	return changed
}

func TestGraphHAM(t *testing.T) {
	graph := NewGraph()

	if changed := put(t, graph, "room", "msg", `"a"`, 10); !slices.Equal(changed, []string{"msg"}) {
		t.Errorf("first write changed %v", changed)
	}
	if changed := put(t, graph, "room", "msg", `"old"`, 5); len(changed) != 0 {
		t.Errorf("older state changed %v", changed)
	}
	if changed := put(t, graph, "room", "msg", `"b"`, 10); len(changed) != 1 {
		t.Error("equal state with greater value lost")
	}
	if changed := put(t, graph, "room", "msg", `"a"`, 10); len(changed) != 0 {
		t.Error("equal state with smaller value won")
	}
	if got := string(graph.Fields("room")["msg"]); got != `"b"` {
		t.Errorf("msg = %s, want \"b\"", got)
	}
}

func TestGraphNullFieldsHidden(t *testing.T) {
	graph := NewGraph()
	put(t, graph, "peers", "alice", `1`, 1)
	put(t, graph, "peers", "bob", `2`, 1)
	put(t, graph, "peers", "alice", `null`, 2)

	fields := graph.Fields("peers")
	if _, ok := fields["alice"]; ok {
		t.Error("tombstoned field still listed")
	}
	if string(fields["bob"]) != "2" {
		t.Errorf("bob = %s", fields["bob"])
	}
}

func TestGraphEncodeRoundTrip(t *testing.T) {
	source := NewGraph()
	put(t, source, "room", "msg", `"hello"`, 42)
	node, ok := source.Encode("room")
	if !ok {
		t.Fatal("Encode lost a known node")
	}
	if _, ok := source.Encode("missing"); ok {
		t.Error("Encode returned an unknown node")
	}

	replica := NewGraph()
	if _, err := replica.Merge("room", node); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if string(replica.Fields("room")["msg"]) != `"hello"` {
		t.Errorf("replica = %v", replica.Fields("room"))
	}
	// The state travels with the node.
	if changed := put(t, replica, "room", "msg", `"older"`, 41); len(changed) != 0 {
		t.Error("state was not carried by Encode")
	}
}

func TestGraphIgnoresFieldsWithoutState(t *testing.T) {
	graph := NewGraph()
	changed, err := graph.Merge("room", json.RawMessage(`{"_":{"#":"room",">":{}},"msg":"x"}`))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(changed) != 0 || len(graph.Fields("room")) != 0 {
		t.Error("field without state was merged")
	}
	if _, err := graph.Merge("room", json.RawMessage(`[1,2]`)); err == nil {
		t.Error("non-object node accepted")
	}
}

func TestDecodeMessagesBatch(t *testing.T) {
	messages, err := decodeMessages([]byte(`[{"#":"a","get":{"#":"s"}},{"@":"a","ok":{"":1}}]`))
	if err != nil {
		t.Fatalf("decodeMessages: %v", err)
	}
	if len(messages) != 2 || messages[0].Get.Soul != "s" || messages[1].Ack != "a" {
		t.Errorf("messages = %+v", messages)
	}
	single, err := decodeMessages([]byte(` {"#":"b","put":{"s":null}} `))
	if err != nil || len(single) != 1 || single[0].ID != "b" {
		t.Errorf("single = %+v, %v", single, err)
	}
}
