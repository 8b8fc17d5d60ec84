//go:build linux

package discovery

import (
	"net"
	"syscall"
)

// enableBroadcast sets SO_BROADCAST on conn so WriteToUDP to
// 255.255.255.255 is accepted by the kernel; a UDP socket does not get
// this permission by default. Linux is the only build target this
// module supports (matching the daemon's machine-fingerprint code), so
// no portable fallback is provided.
func enableBroadcast(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}
