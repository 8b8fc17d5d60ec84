package lan

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"tiddlysync/application"
	"tiddlysync/domain/message"
	"tiddlysync/domain/peer"
	"tiddlysync/infrastructure/transport/frame"
)

// inboundMsg is one decoded envelope (or terminal error) surfaced to
// whatever consumes Transport.Receive.
type inboundMsg struct {
	link *Link
	env  message.Envelope
	err  error
}

// Link is one established, encrypted LAN connection, implementing
// application.PeerLink. It owns the WebSocket connection plus the
// outbound/inbound SessionCipher pair produced by the handshake.
type Link struct {
	conn       *websocket.Conn
	deviceID   string // remote
	localID    string
	remoteAddr string
	roomCode   string

	encrypt application.SessionCipher
	decrypt application.SessionCipher

	reassembler *frame.Reassembler

	mu     sync.Mutex
	closed bool
}

var _ application.PeerLink = (*Link)(nil)

func newLink(conn *websocket.Conn, remoteDeviceID, localDeviceID, remoteAddr, roomCode string, encrypt, decrypt application.SessionCipher) *Link {
	return &Link{
		conn:        conn,
		deviceID:    remoteDeviceID,
		localID:     localDeviceID,
		remoteAddr:  remoteAddr,
		roomCode:    roomCode,
		encrypt:     encrypt,
		decrypt:     decrypt,
		reassembler: frame.NewReassembler(),
	}
}

func (l *Link) DeviceID() string          { return l.deviceID }
func (l *Link) Transport() peer.Transport { return peer.TransportLAN }

// RemoteAddr reports the remote network address captured at handshake
// time, for logging.
func (l *Link) RemoteAddr() string { return l.remoteAddr }

// RoomCode reports which room's group key this link was authenticated
// against, so a broadcast can be scoped to the right room membership.
func (l *Link) RoomCode() string { return l.roomCode }

// Send serializes, encrypts, and writes env, splitting into chunk frames
// when the ciphertext exceeds frame.ChunkThreshold (spec.md section 4.1).
func (l *Link) Send(ctx context.Context, env message.Envelope) error {
	plaintext, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("lan: marshal envelope: %w", err)
	}
	ciphertext, err := l.encrypt.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("lan: encrypt: %w", err)
	}

	chunks, err := frame.Split(l.localID, frame.ModeBroadcast, "", ciphertext)
	if err != nil {
		return fmt.Errorf("lan: split: %w", err)
	}
	if chunks == nil {
		return l.write(ctx, frame.EncodeData(frame.Data{SenderID: l.localID, Mode: frame.ModeBroadcast, Ciphertext: ciphertext}))
	}
	for _, c := range chunks {
		if err := l.write(ctx, frame.EncodeChunk(c)); err != nil {
			return err
		}
	}
	return nil
}

func (l *Link) write(ctx context.Context, b []byte) error {
	if err := l.conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		return application.Wrap(application.TransientIO, fmt.Errorf("lan: write frame: %w", err))
	}
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop decodes inbound frames until the connection fails, pushing
// every complete envelope (or a terminal error) onto out. The caller
// runs this in its own goroutine.
func (l *Link) readLoop(ctx context.Context, out chan<- inboundMsg) {
	for {
		typ, raw, err := l.conn.Read(ctx)
		if err != nil {
			out <- inboundMsg{link: l, err: application.Wrap(application.TransientIO, fmt.Errorf("lan: read: %w", err))}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		kind, err := frame.PeekKind(raw)
		if err != nil {
			out <- inboundMsg{link: l, err: application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: peek frame kind: %w", err))}
			return
		}

		var ciphertext []byte
		switch kind {
		case frame.KindData:
			d, err := frame.DecodeData(raw)
			if err != nil {
				out <- inboundMsg{link: l, err: application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: decode data frame: %w", err))}
				return
			}
			ciphertext = d.Ciphertext
		case frame.KindChunk:
			c, err := frame.DecodeChunk(raw)
			if err != nil {
				out <- inboundMsg{link: l, err: application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: decode chunk frame: %w", err))}
				return
			}
			reassembled, complete := l.reassembler.Add(c)
			if !complete {
				continue
			}
			ciphertext = reassembled
		default:
			out <- inboundMsg{link: l, err: application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: unexpected frame kind 0x%02x after handshake", kind))}
			return
		}

		plaintext, err := l.decrypt.Decrypt(ciphertext)
		if err != nil {
			out <- inboundMsg{link: l, err: application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: decrypt: %w", err))}
			return
		}
		var env message.Envelope
		if err := json.Unmarshal(plaintext, &env); err != nil {
			out <- inboundMsg{link: l, err: application.Wrap(application.ProtocolViolation, fmt.Errorf("lan: unmarshal envelope: %w", err))}
			return
		}
		out <- inboundMsg{link: l, env: env}
	}
}
