package discovery

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestListener_ObservesBeaconAndFiltersSelf(t *testing.T) {
	connected := func() map[string]bool { return map[string]bool{} }
	l := NewListener("self-device", connected, testLogger{})
	defer l.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = l.Start(ctx) }()
	time.Sleep(50 * time.Millisecond) // let the socket bind

	send := func(packet beaconPacket) {
		raw, err := encodeBeacon(packet)
		if err != nil {
			t.Fatalf("encodeBeacon: %v", err)
		}
		conn, err := net.Dial("udp4", "127.0.0.1:58384")
		if err != nil {
			t.Fatalf("dial loopback beacon port: %v", err)
		}
		defer conn.Close()
		if _, err := conn.Write(raw); err != nil {
			t.Fatalf("write beacon: %v", err)
		}
	}

	send(beaconPacket{DeviceID: "self-device", DeviceName: "me", Port: 1234, RoomHashes: []string{"x"}})
	send(beaconPacket{DeviceID: "peer-device", DeviceName: "peer", Port: 4321, RoomHashes: []string{"hash-1"}})

	select {
	case s := <-l.Sightings():
		if s.DeviceID != "peer-device" {
			t.Fatalf("DeviceID = %q, want %q (self beacon should have been filtered)", s.DeviceID, "peer-device")
		}
		if s.Port != 4321 {
			t.Fatalf("Port = %d, want 4321", s.Port)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer sighting")
	}
}

func TestListener_PruneReportsLossUnlessConnected(t *testing.T) {
	stillConnected := map[string]bool{"connected-peer": true}
	connected := func() map[string]bool { return stillConnected }
	l := NewListener("self-device", connected, testLogger{})
	defer l.Stop()

	now := time.Now().Add(-2 * LossTimeout)
	l.mu.Lock()
	l.lastSeen["connected-peer"] = sighting{lastSeen: now}
	l.lastSeen["gone-peer"] = sighting{lastSeen: now}
	l.mu.Unlock()

	l.prune()

	select {
	case deviceID := <-l.lost:
		if deviceID != "gone-peer" {
			t.Fatalf("Lost() = %q, want %q", deviceID, "gone-peer")
		}
	default:
		t.Fatal("expected a loss event for gone-peer")
	}

	select {
	case deviceID := <-l.lost:
		t.Fatalf("unexpected second loss event for %q; connected-peer should have been protected", deviceID)
	default:
	}
}
