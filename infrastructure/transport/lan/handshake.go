// Package lan implements the LAN side of the symmetric-key session
// protocol from spec.md section 4.1 over a WebSocket transport, grounded
// in the teacher's tungo/infrastructure/network/ws server and adapter
// packages (coder/websocket, an HTTP server wrapping a single upgrade
// path, context-scoped read/write deadlines).
package lan

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"tiddlysync/application"
	"tiddlysync/infrastructure/cryptography/roomkeys"
	"tiddlysync/infrastructure/cryptography/session"
	"tiddlysync/infrastructure/transport/frame"
)

// HandshakeTimeout bounds the entire LAN handshake (spec.md section 9:
// "30s handshake timeout").
const HandshakeTimeout = 30 * time.Second

// hello is the initial JSON handshake message sent by the connecting
// side, identifying which room it believes this endpoint serves
// (spec.md section 4.1, "Handshake (LAN)").
type hello struct {
	RoomCode       string `json:"room_code"`
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	ChallengeNonce string `json:"challenge_nonce"`
}

// localIdentity is this device's own id/name, supplied by the caller
// (pairing.Store in production).
type localIdentity struct {
	DeviceID   string
	DeviceName string
}

// runInitiatorHandshake is used by the dialer: send hello, exchange
// session_init frames, build the Link.
func runInitiatorHandshake(ctx context.Context, conn *websocket.Conn, remoteAddr, roomCode string, local localIdentity, keyring application.RoomKeyring) (*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	groupKey, ok := keyring.GroupKey(roomCode)
	if !ok {
		return nil, application.Wrap(application.Configuration, fmt.Errorf("lan: not a member of room %q", roomCode))
	}

	nonce, err := randomChallenge()
	if err != nil {
		return nil, application.Wrap(application.TransientIO, err)
	}
	h := hello{RoomCode: roomCode, DeviceID: local.DeviceID, DeviceName: local.DeviceName, ChallengeNonce: nonce}
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("lan: encode hello: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		return nil, application.Wrap(application.TransientIO, fmt.Errorf("lan: send hello: %w", err))
	}

	return completeSessionInit(ctx, conn, remoteAddr, roomCode, groupKey, local.DeviceID, "" /* unknown until peer's frame arrives */)
}

// runAcceptorHandshake is used by the server: wait for hello, look up
// the room's group key, exchange session_init frames.
func runAcceptorHandshake(ctx context.Context, conn *websocket.Conn, remoteAddr string, keyring application.RoomKeyring) (*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	typ, raw, err := conn.Read(ctx)
	if err != nil {
		return nil, application.Wrap(application.TransientIO, fmt.Errorf("lan: read hello: %w", err))
	}
	if typ != websocket.MessageText {
		return nil, application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: expected text hello, got binary frame"))
	}
	var h hello
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: decode hello: %w", err))
	}

	groupKey, ok := keyring.GroupKey(h.RoomCode)
	if !ok {
		return nil, application.Wrap(application.Configuration, fmt.Errorf("lan: unknown room %q", h.RoomCode))
	}

	return completeSessionInit(ctx, conn, remoteAddr, h.RoomCode, groupKey, h.DeviceID, h.DeviceID)
}

// completeSessionInit exchanges session_init frames and derives the
// inbound/outbound SessionCipher pair. localDeviceID is always known;
// expectedPeerID is the device_id already learned from hello on the
// acceptor side, or "" on the initiator side (learned only once the
// peer's session_init frame arrives).
func completeSessionInit(ctx context.Context, conn *websocket.Conn, remoteAddr, roomCode string, groupKey [32]byte, localDeviceID, expectedPeerID string) (*Link, error) {
	var ourNonce [32]byte
	if _, err := rand.Read(ourNonce[:]); err != nil {
		return nil, application.Wrap(application.TransientIO, fmt.Errorf("lan: generate session nonce: %w", err))
	}
	out := frame.EncodeSessionInit(frame.SessionInit{Nonce: ourNonce, DeviceID: localDeviceID})
	if err := conn.Write(ctx, websocket.MessageBinary, out); err != nil {
		return nil, application.Wrap(application.TransientIO, fmt.Errorf("lan: send session_init: %w", err))
	}

	typ, raw, err := conn.Read(ctx)
	if err != nil {
		return nil, application.Wrap(application.TransientIO, fmt.Errorf("lan: read session_init: %w", err))
	}
	if typ != websocket.MessageBinary {
		return nil, application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: expected binary session_init"))
	}
	peerInit, err := frame.DecodeSessionInit(raw)
	if err != nil {
		return nil, application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: decode session_init: %w", err))
	}
	if expectedPeerID != "" && peerInit.DeviceID != expectedPeerID {
		return nil, application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: session_init device_id %q does not match hello's %q", peerInit.DeviceID, expectedPeerID))
	}

	outKey, err := roomkeys.DeriveSessionKey(groupKey, ourNonce[:], localDeviceID)
	if err != nil {
		return nil, application.Wrap(application.TransientIO, fmt.Errorf("lan: derive outbound session key: %w", err))
	}
	inKey, err := roomkeys.DeriveSessionKey(groupKey, peerInit.Nonce[:], peerInit.DeviceID)
	if err != nil {
		return nil, application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: derive inbound session key: %w", err))
	}

	encrypt, err := session.New(outKey, ourNonce, localDeviceID)
	if err != nil {
		return nil, application.Wrap(application.TransientIO, fmt.Errorf("lan: build outbound cipher: %w", err))
	}
	decrypt, err := session.New(inKey, peerInit.Nonce, peerInit.DeviceID)
	if err != nil {
		return nil, application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: build inbound cipher: %w", err))
	}

	return newLink(conn, peerInit.DeviceID, localDeviceID, remoteAddr, roomCode, encrypt, decrypt), nil
}

func randomChallenge() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("lan: generate challenge nonce: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}
