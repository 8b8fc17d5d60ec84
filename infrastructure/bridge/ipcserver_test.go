package bridge

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

type testLogger struct{}

func (testLogger) Printf(string, ...any) {}

func TestIPCServer_RejectsBadToken(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := NewIPCServer(listener, "correct-token", testLogger{})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(authMessage{Type: "auth", Token: "wrong-token"}); err != nil {
		t.Fatalf("encode auth: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed after bad auth")
	}
}

func TestIPCServer_AuthThenCommandRoundTrip(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := NewIPCServer(listener, "correct-token", testLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	if err := enc.Encode(authMessage{Type: "auth", Token: "correct-token"}); err != nil {
		t.Fatalf("encode auth: %v", err)
	}
	if err := enc.Encode(commandHeader{Type: "TiddlerChanged", WikiID: "wiki1"}); err != nil {
		t.Fatalf("encode command: %v", err)
	}

	select {
	case cmd := <-srv.Commands():
		if cmd.Type != "TiddlerChanged" || cmd.WikiID != "wiki1" {
			t.Fatalf("unexpected command: %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
	}

	if err := srv.EmitToEditors("wiki1", "FullSyncBatch", map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("EmitToEditors: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got outboundEnvelope
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode emitted event: %v", err)
	}
	if got.Type != "FullSyncBatch" || got.WikiID != "wiki1" {
		t.Fatalf("unexpected emitted event: %+v", got)
	}
}
