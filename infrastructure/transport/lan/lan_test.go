package lan

import (
	"context"
	"net"
	"testing"
	"time"

	"tiddlysync/domain/message"
	"tiddlysync/infrastructure/cryptography/roomkeys"
)

type fakeKeyring struct {
	key [32]byte
	ok  bool
}

func (f fakeKeyring) GroupKey(roomCode string) ([32]byte, bool) { return f.key, f.ok }
func (f fakeKeyring) RoomHashes() []string                     { return nil }
func (f fakeKeyring) RoomCodeForHash(string) (string, bool)     { return "", false }

func newTestLogger() testLogger { return testLogger{} }

type testLogger struct{}

func (testLogger) Printf(format string, v ...any) {}

func TestHandshakeAndEnvelopeRoundTrip(t *testing.T) {
	key, err := roomkeys.DeriveGroupKey("hunter2", "ABCD-1234")
	if err != nil {
		t.Fatalf("DeriveGroupKey: %v", err)
	}
	keyring := fakeKeyring{key: key, ok: true}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(ctx, listener, "device-server", "Server Device", keyring, newTestLogger())
	defer srv.Stop()

	link, err := Dial(ctx, listener.Addr().String(), "ABCD-1234", "device-client", "Client Device", keyring)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer link.Close()

	if link.DeviceID() != "device-server" {
		t.Fatalf("client link DeviceID() = %q, want %q", link.DeviceID(), "device-server")
	}

	want, err := message.Encode(message.TypeWikiManifest, map[string]any{"hello": "world"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := link.Send(ctx, want); err != nil {
		t.Fatalf("client Send: %v", err)
	}

	recvCtx2, recvCancel2 := context.WithTimeout(ctx, 5*time.Second)
	defer recvCancel2()
	gotLink, got, err := srv.Receive(recvCtx2)
	if err != nil {
		t.Fatalf("server Receive: %v", err)
	}
	if gotLink.DeviceID() != "device-client" {
		t.Fatalf("server-side link DeviceID() = %q, want %q", gotLink.DeviceID(), "device-client")
	}
	if got.Type != want.Type {
		t.Fatalf("Type = %q, want %q", got.Type, want.Type)
	}
	if string(got.Payload) != string(want.Payload) {
		t.Fatalf("Payload = %s, want %s", got.Payload, want.Payload)
	}
}

func TestHandshake_UnknownRoomRejected(t *testing.T) {
	serverKeyring := fakeKeyring{ok: false}
	clientKeyring := fakeKeyring{key: [32]byte{1}, ok: true}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(ctx, listener, "device-server", "Server Device", serverKeyring, newTestLogger())
	defer srv.Stop()

	_, err = Dial(ctx, listener.Addr().String(), "NOPE-0000", "device-client", "Client Device", clientKeyring)
	if err == nil {
		t.Fatal("expected Dial to fail when the server does not recognize the room")
	}
}
