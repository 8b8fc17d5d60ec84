package lan

import (
	"context"
	"fmt"

	"github.com/coder/websocket"

	"tiddlysync/application"
)

// DialTimeout bounds the TCP connect + WebSocket upgrade + handshake
// for an outbound LAN dial.
const DialTimeout = HandshakeTimeout

// Dial opens a LAN WebSocket connection to addr (host:port, as announced
// in a discovery beacon) and runs the initiator side of the handshake
// for roomCode. The returned Link is not yet registered with any Server;
// pass it to Server.Adopt so its inbound frames flow through the same
// Receive loop as accepted connections.
func Dial(ctx context.Context, addr, roomCode, localDeviceID, localDeviceName string, keyring application.RoomKeyring) (*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	url := fmt.Sprintf("ws://%s%s", addr, wsPath)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{CompressionMode: websocket.CompressionDisabled})
	if err != nil {
		return nil, fmt.Errorf("lan: dial %s: %w", addr, err)
	}
	conn.SetReadLimit(ReadLimit)

	link, err := runInitiatorHandshake(ctx, conn, addr, roomCode, localIdentity{DeviceID: localDeviceID, DeviceName: localDeviceName}, keyring)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, err
	}
	return link, nil
}
