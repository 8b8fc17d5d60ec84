// Package collab implements the collaborative-editing presence and
// low-latency overlay from spec.md section 4.7: Presence tracks which
// (peer, title) pairs are actively being edited, and LoopbackHub pushes
// CollabUpdate/CollabAwareness to the local editor faster than the IPC
// round trip would allow.
package collab

import (
	"sync"

	"tiddlysync/domain/message"
)

type sessionKey struct {
	WikiID string
	Title  string
}

// Presence tracks active EditingStarted sessions per peer and title. On
// a peer disconnecting, ActiveSessionsFor synthesizes the EditingStopped
// events that peer never got to send; on a local reconnect,
// LocalSessions re-announces what we still have open so a freshly
// (re)joined peer's presence view stays correct.
type Presence struct {
	mu sync.Mutex

	// byPeer[peerID][sessionKey] = true while peerID is editing that tiddler.
	byPeer map[string]map[sessionKey]bool
	// local tracks our own open sessions, keyed the same way, value is our device id.
	local map[sessionKey]string
}

// NewPresence builds an empty Presence tracker.
func NewPresence() *Presence {
	return &Presence{
		byPeer: make(map[string]map[sessionKey]bool),
		local:  make(map[sessionKey]string),
	}
}

// OnPeerStarted records a remote EditingStarted.
func (p *Presence) OnPeerStarted(peerID string, ev message.EditingStarted) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.byPeer[peerID]
	if !ok {
		set = make(map[sessionKey]bool)
		p.byPeer[peerID] = set
	}
	set[sessionKey{WikiID: ev.WikiID, Title: ev.Title}] = true
}

// OnPeerStopped clears a remote EditingStopped.
func (p *Presence) OnPeerStopped(peerID string, ev message.EditingStopped) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if set, ok := p.byPeer[peerID]; ok {
		delete(set, sessionKey{WikiID: ev.WikiID, Title: ev.Title})
	}
}

// OnPeerDisconnected clears every session peerID held open and returns
// the EditingStopped events to synthesize on its behalf, so other peers'
// presence views don't show a ghost editor forever.
func (p *Presence) OnPeerDisconnected(peerID string) []message.EditingStopped {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.byPeer[peerID]
	if !ok {
		return nil
	}
	delete(p.byPeer, peerID)

	out := make([]message.EditingStopped, 0, len(set))
	for key := range set {
		out = append(out, message.EditingStopped{WikiID: key.WikiID, Title: key.Title, DeviceID: peerID})
	}
	return out
}

// StartLocal records that deviceID (us) started editing (wikiID, title).
func (p *Presence) StartLocal(wikiID, title, deviceID string) message.EditingStarted {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local[sessionKey{WikiID: wikiID, Title: title}] = deviceID
	return message.EditingStarted{WikiID: wikiID, Title: title, DeviceID: deviceID}
}

// StopLocal clears a local editing session.
func (p *Presence) StopLocal(wikiID, title, deviceID string) message.EditingStopped {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.local, sessionKey{WikiID: wikiID, Title: title})
	return message.EditingStopped{WikiID: wikiID, Title: title, DeviceID: deviceID}
}

// LocalSessions returns every session we still have open, to re-announce
// after a reconnect.
func (p *Presence) LocalSessions() []message.EditingStarted {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]message.EditingStarted, 0, len(p.local))
	for key, deviceID := range p.local {
		out = append(out, message.EditingStarted{WikiID: key.WikiID, Title: key.Title, DeviceID: deviceID})
	}
	return out
}

// ActiveEditors lists every peer (plus us, if locally active) currently
// editing (wikiID, title).
func (p *Presence) ActiveEditors(wikiID, title string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := sessionKey{WikiID: wikiID, Title: title}

	var editors []string
	if deviceID, ok := p.local[key]; ok {
		editors = append(editors, deviceID)
	}
	for peerID, set := range p.byPeer {
		if set[key] {
			editors = append(editors, peerID)
		}
	}
	return editors
}
