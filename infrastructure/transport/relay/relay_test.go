package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"tiddlysync/domain/message"
	"tiddlysync/infrastructure/cryptography/roomkeys"
)

type fakeKeyring struct {
	key [32]byte
	ok  bool
}

func (f fakeKeyring) GroupKey(string) ([32]byte, bool)      { return f.key, f.ok }
func (f fakeKeyring) RoomHashes() []string                  { return nil }
func (f fakeKeyring) RoomCodeForHash(string) (string, bool) { return "", false }

type testLogger struct{}

func (testLogger) Printf(format string, v ...any) {}

// fakeRelay is a minimal stand-in for the hosted relay server: it accepts
// WebSocket upgrades and forwards every binary frame it receives to
// every other currently connected client, exactly as the real relay
// fans out ciphertext it cannot itself decrypt.
type fakeRelay struct {
	mu    sync.Mutex
	conns []*websocket.Conn
}

func (f *fakeRelay) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{CompressionMode: websocket.CompressionDisabled})
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	ctx := r.Context()
	for {
		typ, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		f.mu.Lock()
		peers := append([]*websocket.Conn(nil), f.conns...)
		f.mu.Unlock()
		for _, peerConn := range peers {
			if peerConn == conn {
				continue
			}
			_ = peerConn.Write(ctx, typ, raw)
		}
	}
}

func TestRelayClient_BroadcastRoundTrip(t *testing.T) {
	key, err := roomkeys.DeriveGroupKey("hunter2", "ABCD-1234")
	if err != nil {
		t.Fatalf("DeriveGroupKey: %v", err)
	}
	keyring := fakeKeyring{key: key, ok: true}

	relayServer := &fakeRelay{}
	httpSrv := httptest.NewServer(http.HandlerFunc(relayServer.handler))
	defer httpSrv.Close()

	wsURL := "ws" + httpSrv.URL[len("http"):]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientA, err := NewClient(Config{RelayURL: wsURL, RoomCode: "ABCD-1234", OAuthToken: "tok", LocalDeviceID: "device-a", LocalDeviceName: "A"}, keyring, testLogger{})
	if err != nil {
		t.Fatalf("NewClient A: %v", err)
	}
	clientB, err := NewClient(Config{RelayURL: wsURL, RoomCode: "ABCD-1234", OAuthToken: "tok", LocalDeviceID: "device-b", LocalDeviceName: "B"}, keyring, testLogger{})
	if err != nil {
		t.Fatalf("NewClient B: %v", err)
	}

	if err := clientA.connectOnce(ctx); err != nil {
		t.Fatalf("connectOnce A: %v", err)
	}
	defer clientA.Close()
	if err := clientB.connectOnce(ctx); err != nil {
		t.Fatalf("connectOnce B: %v", err)
	}
	defer clientB.Close()

	go func() {
		readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = clientA.readUntilDisconnect(readCtx)
	}()
	go func() {
		readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = clientB.readUntilDisconnect(readCtx)
	}()

	// Give both sides time to exchange session_init announcements before
	// sending application data.
	time.Sleep(200 * time.Millisecond)

	want, err := message.Encode(message.TypeWikiManifest, map[string]any{"hello": "from-a"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := clientA.Broadcast(ctx, want, ""); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	recvCtx, recvCancel := context.WithTimeout(ctx, 2*time.Second)
	defer recvCancel()
	link, got, err := clientB.Receive(recvCtx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if link.DeviceID() != "device-a" {
		t.Fatalf("DeviceID() = %q, want %q", link.DeviceID(), "device-a")
	}
	if got.Type != want.Type || string(got.Payload) != string(want.Payload) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
