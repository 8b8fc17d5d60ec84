package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"tiddlysync/application"
	"tiddlysync/domain/message"
	"tiddlysync/domain/peer"
)

// Link represents one remote room member as seen through the relay's
// single WebSocket connection: a "virtual" PeerLink multiplexed over the
// shared socket (spec.md section 4.1, "Handshake (relay)"). Sending
// addresses this peer directly (Mode=Direct); the relay itself never
// decrypts, so Client still owns the one outbound SessionCipher shared
// by every Link it creates.
type Link struct {
	client   *Client
	deviceID string
	roomCode string
}

var _ application.PeerLink = (*Link)(nil)

func (l *Link) DeviceID() string          { return l.deviceID }
func (l *Link) Transport() peer.Transport { return peer.TransportRelay }

// RoomCode reports the room this relay connection was configured for —
// every Link a given Client produces shares it, since one Client dials
// one room.
func (l *Link) RoomCode() string { return l.roomCode }

func (l *Link) Send(ctx context.Context, env message.Envelope) error {
	return l.client.sendTo(ctx, l.deviceID, env)
}

func (l *Link) Close() error {
	l.client.forgetPeer(l.deviceID)
	return nil
}

// marshalEnvelope is shared by direct and broadcast sends.
func marshalEnvelope(env message.Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("relay: marshal envelope: %w", err)
	}
	return raw, nil
}

func unmarshalEnvelope(plaintext []byte, env *message.Envelope) error {
	if err := json.Unmarshal(plaintext, env); err != nil {
		return application.Wrap(application.ProtocolViolation, fmt.Errorf("relay: unmarshal envelope: %w", err))
	}
	return nil
}
