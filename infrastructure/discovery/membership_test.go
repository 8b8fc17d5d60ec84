package discovery

import (
	"context"
	"sync"
	"testing"

	"tiddlysync/application"
)

type fakeMembershipKeyring struct {
	hashToRoom map[string]string
}

func (f fakeMembershipKeyring) GroupKey(string) ([32]byte, bool) { return [32]byte{}, false }
func (f fakeMembershipKeyring) RoomHashes() []string             { return nil }
func (f fakeMembershipKeyring) RoomCodeForHash(hash string) (string, bool) {
	code, ok := f.hashToRoom[hash]
	return code, ok
}

type fakeConnector struct {
	mu    sync.Mutex
	calls []string // addr
}

func (f *fakeConnector) Connect(_ context.Context, addr string, _ int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, addr)
	return nil
}

func (f *fakeConnector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestMembership_SmallerDeviceIDInitiatesImmediately(t *testing.T) {
	keyring := fakeMembershipKeyring{hashToRoom: map[string]string{"hash-1": "ABCD-1234"}}
	connector := &fakeConnector{}
	m := NewMembership("aaaa-self", keyring, connector, testLogger{})

	m.onSighting(context.Background(), application.PeerSighting{
		DeviceID: "zzzz-peer", Addr: "192.168.1.5", Port: 9000, RoomHashes: []string{"hash-1"},
	})

	if connector.callCount() != 1 {
		t.Fatalf("expected the smaller-id side (self) to connect immediately, got %d calls", connector.callCount())
	}
}

func TestMembership_LargerDeviceIDDoesNotInitiateImmediately(t *testing.T) {
	keyring := fakeMembershipKeyring{hashToRoom: map[string]string{"hash-1": "ABCD-1234"}}
	connector := &fakeConnector{}
	m := NewMembership("zzzz-self", keyring, connector, testLogger{})

	m.onSighting(context.Background(), application.PeerSighting{
		DeviceID: "aaaa-peer", Addr: "192.168.1.5", Port: 9000, RoomHashes: []string{"hash-1"},
	})

	if connector.callCount() != 0 {
		t.Fatalf("expected the larger-id side (self) to wait for the fallback timer, got %d immediate calls", connector.callCount())
	}
}

func TestMembership_SightingWithNoSharedRoomIsIgnored(t *testing.T) {
	keyring := fakeMembershipKeyring{hashToRoom: map[string]string{}}
	connector := &fakeConnector{}
	m := NewMembership("aaaa-self", keyring, connector, testLogger{})

	m.onSighting(context.Background(), application.PeerSighting{
		DeviceID: "zzzz-peer", Addr: "192.168.1.5", Port: 9000, RoomHashes: []string{"unknown-hash"},
	})

	if connector.callCount() != 0 {
		t.Fatalf("expected no connect attempt without a shared room, got %d", connector.callCount())
	}
}

type testLogger struct{}

func (testLogger) Printf(format string, v ...any) {}
