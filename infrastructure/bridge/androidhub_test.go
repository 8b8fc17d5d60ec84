package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestAndroidHub_CommandPostThenEventPoll(t *testing.T) {
	hub, err := NewAndroidHub(testLogger{})
	if err != nil {
		t.Fatalf("NewAndroidHub: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer hub.Stop()

	base := fmt.Sprintf("http://%s", hub.Addr().String())

	body, _ := json.Marshal(commandHeader{Type: "TiddlerChanged", WikiID: "wiki1"})
	resp, err := http.Post(base+"/commands", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /commands: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	select {
	case cmd := <-hub.Commands():
		if cmd.Type != "TiddlerChanged" || cmd.WikiID != "wiki1" {
			t.Fatalf("unexpected command: %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
	}

	if err := hub.EmitToEditors("wiki1", "FullSyncBatch", map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("EmitToEditors: %v", err)
	}

	resp, err = http.Get(base + "/events")
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	var events []outboundEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].Type != "FullSyncBatch" {
		t.Fatalf("events = %+v, want one FullSyncBatch", events)
	}

	resp2, err := http.Get(base + "/events")
	if err != nil {
		t.Fatalf("GET /events (second poll): %v", err)
	}
	defer resp2.Body.Close()
	var second []outboundEnvelope
	if err := json.NewDecoder(resp2.Body).Decode(&second); err != nil {
		t.Fatalf("decode second poll: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected the queue to drain after the first poll, got %+v", second)
	}
}
