package collab

import (
	"testing"

	"tiddlysync/domain/message"
)

func TestPresence_PeerDisconnectSynthesizesStops(t *testing.T) {
	p := NewPresence()
	p.OnPeerStarted("peer-a", message.EditingStarted{WikiID: "wiki1", Title: "Hello"})
	p.OnPeerStarted("peer-a", message.EditingStarted{WikiID: "wiki1", Title: "Other"})

	stops := p.OnPeerDisconnected("peer-a")
	if len(stops) != 2 {
		t.Fatalf("expected 2 synthesized stops, got %d: %+v", len(stops), stops)
	}
	for _, s := range stops {
		if s.DeviceID != "peer-a" {
			t.Errorf("synthesized stop has DeviceID %q, want peer-a", s.DeviceID)
		}
	}

	if editors := p.ActiveEditors("wiki1", "Hello"); len(editors) != 0 {
		t.Fatalf("expected no active editors after disconnect, got %v", editors)
	}
}

func TestPresence_LocalSessionsReannounce(t *testing.T) {
	p := NewPresence()
	p.StartLocal("wiki1", "Hello", "device-a")

	sessions := p.LocalSessions()
	if len(sessions) != 1 || sessions[0].Title != "Hello" {
		t.Fatalf("LocalSessions() = %+v", sessions)
	}

	p.StopLocal("wiki1", "Hello", "device-a")
	if sessions := p.LocalSessions(); len(sessions) != 0 {
		t.Fatalf("expected no local sessions after stop, got %+v", sessions)
	}
}

func TestPresence_ActiveEditorsCombinesLocalAndRemote(t *testing.T) {
	p := NewPresence()
	p.StartLocal("wiki1", "Hello", "device-a")
	p.OnPeerStarted("device-b", message.EditingStarted{WikiID: "wiki1", Title: "Hello"})

	editors := p.ActiveEditors("wiki1", "Hello")
	if len(editors) != 2 {
		t.Fatalf("ActiveEditors() = %v, want 2 entries", editors)
	}
}
