package syncmanager

import (
	"errors"

	"tiddlysync/application"
)

// handleTransportError applies the fixed per-Kind policy from spec.md
// section 7 at the one place every transport failure funnels through.
// TransientIO's "reconnect with backoff" leg is already owned by
// discovery.Backoff (LAN) and infrastructure/transport/relay.Client's own
// Run loop (relay) — this only needs to log, emit the disconnect, and
// leave reconnection to those.
func (m *Manager) handleTransportError(link application.PeerLink, err error) {
	kind := application.TransientIO
	var appErr *application.Error
	if errors.As(err, &appErr) {
		kind = appErr.Kind
	}

	switch kind {
	case application.ProtocolViolation:
		m.logger.Printf("security: %v", err)
		if link != nil {
			_ = link.Close()
		}
	case application.Configuration:
		m.logger.Printf("sync: rejected: %v", err)
		return // no peer to disconnect, nothing was ever established
	case application.LogicalConflict:
		// Never actually produced by a transport Receive; conflicts are
		// resolved inline in handleInbound and never surface as an error.
		m.logger.Printf("sync: unexpected logical_conflict from transport: %v", err)
	default:
		m.logger.Printf("sync: transient transport error: %v", err)
	}

	if link != nil {
		m.onPeerDisconnected(link.DeviceID())
	}
}

// onPeerDisconnected tears down everything Manager tracks about a peer
// that's no longer reachable on this link: synthesized EditingStopped
// events so other devices' presence views don't show a ghost editor, per
// infrastructure/collab.Presence.OnPeerDisconnected's contract.
func (m *Manager) onPeerDisconnected(peerID string) {
	stopped := m.presence.OnPeerDisconnected(peerID)
	for _, ev := range stopped {
		if _, ok := m.wikis[ev.WikiID]; !ok {
			continue
		}
		_ = m.editorBridge.EmitToEditors(ev.WikiID, bridgeEventEditingStopped, ev)
	}
}
