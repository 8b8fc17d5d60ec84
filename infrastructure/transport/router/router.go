// Package router implements the single "send_to_peer_any" entry point
// spec.md section 9 calls for, instead of special-casing LAN vs relay at
// every send site: Router consults whichever transport currently holds a
// link to a device and routes there, preferring LAN when both are live.
// Broadcasts fan out over LAN links first and then relay-send only to
// the room members not already reached over LAN, avoiding a double
// delivery to dual-homed peers.
package router

import (
	"context"
	"fmt"
	"sync"

	"tiddlysync/application"
	"tiddlysync/domain/message"
	"tiddlysync/domain/peer"
	"tiddlysync/infrastructure/transport/lan"
	"tiddlysync/infrastructure/transport/relay"
)

// Router implements application.Router over one LAN server and zero or
// more relay clients (one per room the device has joined with a relay
// configured). A missing relay map entry just means that room has no
// relay configured; LAN-only rooms work unmodified. relays is mutated by
// AddRelay/RemoveRelay as syncmanager joins and leaves rooms, concurrently
// with SendToPeerAny/Broadcast/Peers ranging over it from the event loop
// and pump goroutines, so access goes through mu.
type Router struct {
	lanServer *lan.Server
	logger    application.Logger

	mu     sync.RWMutex
	relays map[string]*relay.Client // by room code
}

var _ application.Router = (*Router)(nil)

// New builds a Router. relays may be nil or empty if no room has relay
// configured yet; AddRelay registers one as rooms are joined.
func New(lanServer *lan.Server, logger application.Logger) *Router {
	return &Router{
		lanServer: lanServer,
		relays:    make(map[string]*relay.Client),
		logger:    logger,
	}
}

// AddRelay registers the relay client serving roomCode.
func (r *Router) AddRelay(roomCode string, client *relay.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relays[roomCode] = client
}

// RemoveRelay drops the relay client for roomCode, e.g. after leaving
// the room.
func (r *Router) RemoveRelay(roomCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.relays, roomCode)
}

// relaySnapshot copies the current room->client map so callers can range
// over it without holding mu across network I/O.
func (r *Router) relaySnapshot() map[string]*relay.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*relay.Client, len(r.relays))
	for k, v := range r.relays {
		out[k] = v
	}
	return out
}

// SendToPeerAny implements application.Router: LAN is preferred when a
// live link exists, falling back to whichever relay client (if any) has
// the peer in its announced member set.
func (r *Router) SendToPeerAny(ctx context.Context, deviceID string, env message.Envelope) error {
	if link, ok := r.lanServer.LinkByDeviceID(deviceID); ok {
		err := link.Send(ctx, env)
		if err == nil {
			return nil
		}
		r.logger.Printf("router: lan send to %s failed, falling back to relay: %v", deviceID, err)
	}
	for _, client := range r.relaySnapshot() {
		if client.HasPeer(deviceID) {
			return client.SendTo(ctx, deviceID, env)
		}
	}
	return application.Wrap(application.TransientIO, fmt.Errorf("router: no reachable route to peer %s", deviceID))
}

// Broadcast fans env out to every member of roomCode reachable over LAN,
// then relay-sends only to the members not already reached that way, so
// a peer visible on both transports receives exactly one copy.
func (r *Router) Broadcast(ctx context.Context, roomCode string, env message.Envelope, excludeDeviceID string) []error {
	var errs []error
	reached := make(map[string]bool)

	for _, link := range r.lanServer.Links(roomCode) {
		if link.DeviceID() == excludeDeviceID {
			continue
		}
		if err := link.Send(ctx, env); err != nil {
			errs = append(errs, fmt.Errorf("router: lan broadcast to %s: %w", link.DeviceID(), err))
			continue
		}
		reached[link.DeviceID()] = true
	}

	client, ok := r.relaySnapshot()[roomCode]
	if !ok {
		return errs
	}
	var recipients []string
	for _, p := range client.Peers() {
		if p.DeviceID == excludeDeviceID || reached[p.DeviceID] {
			continue
		}
		recipients = append(recipients, p.DeviceID)
	}
	if len(recipients) == 0 {
		return errs
	}
	errs = append(errs, client.SendToMany(ctx, env, recipients)...)
	return errs
}

// Peers lists every currently reachable device across both transports,
// deduplicated by (device_id, transport) per domain/peer.Connection.Key.
func (r *Router) Peers() []peer.Connection {
	seen := make(map[peer.Key]bool)
	var out []peer.Connection
	for _, c := range r.lanServer.Peers() {
		if seen[c.Key()] {
			continue
		}
		seen[c.Key()] = true
		out = append(out, c)
	}
	for _, client := range r.relaySnapshot() {
		for _, c := range client.Peers() {
			if seen[c.Key()] {
				continue
			}
			seen[c.Key()] = true
			out = append(out, c)
		}
	}
	return out
}
