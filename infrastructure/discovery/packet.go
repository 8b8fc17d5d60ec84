// Package discovery implements room-based LAN peer finding over UDP
// broadcast (spec.md section 4.2): a Beacon periodically announces this
// device's hashed room memberships, a Listener turns received beacons
// into application.PeerSighting/Lost events, and Membership applies the
// tie-broken mutual-connect rule on top.
//
// Grounded in the teacher's UDP session-plane packages
// (tungo/infrastructure/routing/server_routing/routing/udp_chacha20):
// net.ListenUDP plus a small framed packet, generalized from a data
// session to a periodic broadcast announcement.
package discovery

import (
	"encoding/json"
	"fmt"
)

// Port is the fixed UDP port beacons are sent to and listened on.
const Port = 58384

// beaconPacket is the wire form of one announcement. JSON keeps it
// consistent with every other tagged message in this protocol and easy
// to extend without a framing rewrite.
type beaconPacket struct {
	DeviceID   string   `json:"device_id"`
	DeviceName string   `json:"device_name"`
	Port       int      `json:"port"`
	RoomHashes []string `json:"room_hashes"`
}

func encodeBeacon(p beaconPacket) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("discovery: encode beacon: %w", err)
	}
	return raw, nil
}

func decodeBeacon(raw []byte) (beaconPacket, error) {
	var p beaconPacket
	if err := json.Unmarshal(raw, &p); err != nil {
		return beaconPacket{}, fmt.Errorf("discovery: decode beacon: %w", err)
	}
	return p, nil
}
