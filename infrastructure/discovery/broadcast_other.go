//go:build darwin || windows

package discovery

import (
	"fmt"
	"net"
)

// enableBroadcast is not implemented for this platform; the daemon is
// Linux-first (see broadcast_linux.go). A macOS/Windows port would set
// SO_BROADCAST through the platform equivalent here.
func enableBroadcast(conn *net.UDPConn) error {
	return fmt.Errorf("discovery: beacon broadcast is not implemented on this platform")
}
