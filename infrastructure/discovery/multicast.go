package discovery

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// MulticastGroup is an additional beacon destination alongside the
// limited broadcast address (255.255.255.255): 255.255.255.255 never
// crosses a router and some LAN segments (VLANs, certain Wi-Fi AP
// isolation configurations) filter it more aggressively than a
// well-known multicast group. Sending both gives discovery two
// independent paths to the same peers.
var multicastGroup = &net.UDPAddr{IP: net.IPv4(239, 255, 42, 99), Port: Port}

// multicastInterfaces returns every up, multicast-capable interface,
// skipping loopback (it already receives its own broadcast send).
func multicastInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("discovery: list interfaces: %w", err)
	}
	var out []net.Interface
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		out = append(out, iface)
	}
	return out, nil
}

// sendMulticast writes payload to MulticastGroup on every multicast
// interface in turn. One interface failing to send doesn't stop the
// others — on a multi-homed host only one NIC may actually be on the
// LAN segment peers live on.
func sendMulticast(pc *ipv4.PacketConn, payload []byte) error {
	ifaces, err := multicastInterfaces()
	if err != nil {
		return err
	}
	var lastErr error
	sent := false
	for _, iface := range ifaces {
		ifaceCopy := iface
		if err := pc.SetMulticastInterface(&ifaceCopy); err != nil {
			lastErr = err
			continue
		}
		if _, err := pc.WriteTo(payload, nil, multicastGroup); err != nil {
			lastErr = err
			continue
		}
		sent = true
	}
	if !sent {
		return lastErr
	}
	return nil
}

// joinMulticastGroups subscribes pc to MulticastGroup on every
// multicast-capable interface so a beacon sent to the group from any of
// them is received regardless of which NIC the kernel happened to pick
// as the default route.
func joinMulticastGroups(pc *ipv4.PacketConn) error {
	ifaces, err := multicastInterfaces()
	if err != nil {
		return err
	}
	joined := false
	var lastErr error
	for _, iface := range ifaces {
		ifaceCopy := iface
		if err := pc.JoinGroup(&ifaceCopy, multicastGroup); err != nil {
			lastErr = err
			continue
		}
		joined = true
	}
	if !joined {
		return lastErr
	}
	return nil
}
