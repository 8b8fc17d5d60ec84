package application

import (
	"context"

	"tiddlysync/domain/message"
	"tiddlysync/domain/peer"
)

// PeerLink is a single established, encrypted channel to a remote device,
// abstracting over LAN vs relay exactly as spec.md section 4.1 requires:
// the on-wire framing differs only in envelope, not in payload shape.
type PeerLink interface {
	DeviceID() string
	Transport() peer.Transport
	// RoomCode reports the room this link was authenticated into (the
	// LAN handshake's auth_room_code, or the relay client's configured
	// room), so an inbound message can be checked against the room the
	// target wiki is actually assigned to before it's applied.
	RoomCode() string
	Send(ctx context.Context, env message.Envelope) error
	Close() error
}

// Transport is a physical channel capable of producing PeerLinks, either
// by accepting inbound connections (LAN server) or by dialing out
// (relay client).
type Transport interface {
	// Receive blocks until a message arrives on any active link, or ctx
	// is done. It returns the originating link alongside the envelope so
	// callers can route replies.
	Receive(ctx context.Context) (PeerLink, message.Envelope, error)
}

// Router is the single source of truth for "who is currently connected",
// implementing the send_to_peer_any pattern from spec.md section 9: it
// consults the peers map to choose a route without special-casing LAN vs
// relay at every call site.
type Router interface {
	SendToPeerAny(ctx context.Context, deviceID string, env message.Envelope) error
	Broadcast(ctx context.Context, roomCode string, env message.Envelope, excludeDeviceID string) []error
	Peers() []peer.Connection
}
