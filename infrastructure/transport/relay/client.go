package relay

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"tiddlysync/application"
	"tiddlysync/domain/message"
	"tiddlysync/domain/peer"
	"tiddlysync/infrastructure/cryptography/roomkeys"
	"tiddlysync/infrastructure/cryptography/session"
	"tiddlysync/infrastructure/transport/frame"
)

// IdleTimeout is how long the client waits for any frame before treating
// the relay connection as dead (spec.md section 5: "90s idle timeout,
// server pings every 30s").
const IdleTimeout = 90 * time.Second

// ReadLimit bounds a single relay WebSocket frame.
const ReadLimit = 2 * 1024 * 1024

// Config describes one relay room membership.
type Config struct {
	RelayURL        string
	RoomCode        string
	OAuthToken      string
	LocalDeviceID   string
	LocalDeviceName string
}

type inboundMsg struct {
	link *Link
	env  message.Envelope
	err  error
}

// Client is the relay side of application.Transport: one WebSocket
// connection to the relay server carrying every room member's traffic,
// demultiplexed by sender id into per-device virtual Links. Reconnect
// uses a doubling backoff grounded in the teacher's src/client.go.
type Client struct {
	cfg    Config
	logger application.Logger

	groupKey  [32]byte
	roomToken string

	mu      sync.Mutex
	conn    *websocket.Conn
	encrypt application.SessionCipher
	decrypt map[string]application.SessionCipher // by remote sender device id
	links   map[string]*Link
	inbound chan inboundMsg

	reassembler *frame.Reassembler
}

var _ application.Transport = (*Client)(nil)

func NewClient(cfg Config, keyring application.RoomKeyring, logger application.Logger) (*Client, error) {
	groupKey, ok := keyring.GroupKey(cfg.RoomCode)
	if !ok {
		return nil, application.Wrap(application.Configuration, fmt.Errorf("relay: not a member of room %q", cfg.RoomCode))
	}
	return &Client{
		cfg:         cfg,
		logger:      logger,
		groupKey:    groupKey,
		roomToken:   roomkeys.DeriveRoomToken(groupKey),
		decrypt:     make(map[string]application.SessionCipher),
		links:       make(map[string]*Link),
		inbound:     make(chan inboundMsg, 64),
		reassembler: frame.NewReassembler(),
	}, nil
}

// Run dials the relay and, on unexpected disconnect, reconnects with a
// doubling backoff until ctx is cancelled or MaxReconnectAttempts is
// exhausted (spec.md section 7, Transient I/O policy).
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := c.connectOnce(ctx); err != nil {
			attempt++
			c.logger.Printf("relay: connect failed (attempt %d): %v", attempt, err)
			if attempt >= MaxReconnectAttempts {
				return fmt.Errorf("relay: exhausted %d reconnect attempts: %w", MaxReconnectAttempts, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(attempt)):
			}
			continue
		}
		attempt = 0 // a successful session resets the backoff

		err := c.readUntilDisconnect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Printf("relay: connection lost: %v", err)
		attempt++
		if attempt >= MaxReconnectAttempts {
			return fmt.Errorf("relay: exhausted %d reconnect attempts: %w", MaxReconnectAttempts, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDelay(attempt)):
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	dialURL, err := c.buildDialURL()
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.OAuthToken)

	conn, _, err := websocket.Dial(ctx, dialURL, &websocket.DialOptions{
		HTTPHeader:      header,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return application.Wrap(application.TransientIO, fmt.Errorf("relay: dial: %w", err))
	}
	conn.SetReadLimit(ReadLimit)

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return application.Wrap(application.TransientIO, fmt.Errorf("relay: generate session nonce: %w", err))
	}
	outKey, err := roomkeys.DeriveSessionKey(c.groupKey, nonce[:], c.cfg.LocalDeviceID)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return application.Wrap(application.TransientIO, fmt.Errorf("relay: derive outbound session key: %w", err))
	}
	encrypt, err := session.New(outKey, nonce, c.cfg.LocalDeviceID)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return application.Wrap(application.TransientIO, fmt.Errorf("relay: build outbound cipher: %w", err))
	}

	announce := frame.EncodeSessionInit(frame.SessionInit{Nonce: nonce, DeviceID: c.cfg.LocalDeviceID})
	if err := conn.Write(ctx, websocket.MessageBinary, announce); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return application.Wrap(application.TransientIO, fmt.Errorf("relay: announce session: %w", err))
	}

	c.mu.Lock()
	c.conn = conn
	c.encrypt = encrypt
	c.decrypt = make(map[string]application.SessionCipher)
	c.links = make(map[string]*Link)
	c.mu.Unlock()
	return nil
}

func (c *Client) buildDialURL() (string, error) {
	u, err := url.Parse(c.cfg.RelayURL)
	if err != nil {
		return "", fmt.Errorf("relay: parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("room_token", c.roomToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readUntilDisconnect decodes frames until the connection dies, pushing
// decoded envelopes onto c.inbound. It returns the terminating error.
func (c *Client) readUntilDisconnect(ctx context.Context) error {
	for {
		readCtx, cancel := context.WithTimeout(ctx, IdleTimeout)
		typ, raw, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = application.Wrap(application.TransientIO, fmt.Errorf("relay: idle timeout exceeded (%s)", IdleTimeout))
			} else {
				err = application.Wrap(application.TransientIO, err)
			}
			c.inbound <- inboundMsg{err: err}
			return err
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if err := c.handleFrame(raw); err != nil {
			c.logger.Printf("security: relay frame from room %q rejected: %v", c.cfg.RoomCode, err)
		}
	}
}

func (c *Client) handleFrame(raw []byte) error {
	kind, err := frame.PeekKind(raw)
	if err != nil {
		return application.Wrap(application.ProtocolViolation, err)
	}
	switch kind {
	case frame.KindSessionInit:
		init, err := frame.DecodeSessionInit(raw)
		if err != nil {
			return application.Wrap(application.ProtocolViolation, err)
		}
		return c.onPeerAnnounced(init)
	case frame.KindData:
		d, err := frame.DecodeData(raw)
		if err != nil {
			return application.Wrap(application.ProtocolViolation, err)
		}
		if d.Mode == frame.ModeDirect && d.RecipientID != c.cfg.LocalDeviceID {
			return nil // not for us; the relay should already filter this
		}
		return c.onCiphertext(d.SenderID, d.Ciphertext)
	case frame.KindChunk:
		ch, err := frame.DecodeChunk(raw)
		if err != nil {
			return application.Wrap(application.ProtocolViolation, err)
		}
		if ch.Mode == frame.ModeDirect && ch.RecipientID != c.cfg.LocalDeviceID {
			return nil // not for us; the relay should already filter this
		}
		reassembled, complete := c.reassembler.Add(ch)
		if !complete {
			return nil
		}
		return c.onCiphertext(ch.SenderID, reassembled)
	default:
		return application.Wrap(application.ProtocolViolation, fmt.Errorf("relay: unexpected frame kind 0x%02x", kind))
	}
}

func (c *Client) onPeerAnnounced(init frame.SessionInit) error {
	inKey, err := roomkeys.DeriveSessionKey(c.groupKey, init.Nonce[:], init.DeviceID)
	if err != nil {
		return application.Wrap(application.ProtocolViolation, fmt.Errorf("derive inbound session key for %s: %w", init.DeviceID, err))
	}
	decrypt, err := session.New(inKey, init.Nonce, init.DeviceID)
	if err != nil {
		return application.Wrap(application.ProtocolViolation, fmt.Errorf("build inbound cipher for %s: %w", init.DeviceID, err))
	}

	c.mu.Lock()
	c.decrypt[init.DeviceID] = decrypt
	if _, ok := c.links[init.DeviceID]; !ok {
		c.links[init.DeviceID] = &Link{client: c, deviceID: init.DeviceID, roomCode: c.cfg.RoomCode}
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) onCiphertext(senderID string, ciphertext []byte) error {
	c.mu.Lock()
	decrypt, ok := c.decrypt[senderID]
	link := c.links[senderID]
	c.mu.Unlock()
	if !ok {
		return application.Wrap(application.ProtocolViolation, fmt.Errorf("data from %s before session_init", senderID))
	}

	plaintext, err := decrypt.Decrypt(ciphertext)
	if err != nil {
		return application.Wrap(application.ProtocolViolation, fmt.Errorf("decrypt from %s: %w", senderID, err))
	}
	var env message.Envelope
	if err := unmarshalEnvelope(plaintext, &env); err != nil {
		return err
	}
	c.inbound <- inboundMsg{link: link, env: env}
	return nil
}

// Receive implements application.Transport.
func (c *Client) Receive(ctx context.Context) (application.PeerLink, message.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, message.Envelope{}, ctx.Err()
	case msg := <-c.inbound:
		if msg.err != nil {
			return nil, message.Envelope{}, fmt.Errorf("relay: %w", msg.err)
		}
		return msg.link, msg.env, nil
	}
}

// sendTo encrypts env and sends it directly to deviceID.
func (c *Client) sendTo(ctx context.Context, deviceID string, env message.Envelope) error {
	return c.send(ctx, frame.ModeDirect, deviceID, env)
}

// SendTo is the exported form of sendTo, used by Router when it has
// already decided the relay is the right route for deviceID.
func (c *Client) SendTo(ctx context.Context, deviceID string, env message.Envelope) error {
	return c.sendTo(ctx, deviceID, env)
}

// HasPeer reports whether deviceID has announced itself over this relay
// connection.
func (c *Client) HasPeer(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.links[deviceID]
	return ok
}

// SendToMany sends env directly to each listed recipient, used by Router
// when a subset of the room already received env over LAN and must not
// also receive the relay broadcast.
func (c *Client) SendToMany(ctx context.Context, env message.Envelope, recipientIDs []string) []error {
	var errs []error
	for _, id := range recipientIDs {
		if err := c.sendTo(ctx, id, env); err != nil {
			errs = append(errs, fmt.Errorf("relay: send to %s: %w", id, err))
		}
	}
	return errs
}

// Broadcast encrypts env once and sends it to every room member over the
// relay, implementing the relay side of application.Router.Broadcast.
// The relay itself fans it out; excludeDeviceID is informational only
// here (the relay never re-delivers to the sender).
func (c *Client) Broadcast(ctx context.Context, env message.Envelope, excludeDeviceID string) error {
	return c.send(ctx, frame.ModeBroadcast, "", env)
}

func (c *Client) send(ctx context.Context, mode frame.Mode, recipientID string, env message.Envelope) error {
	c.mu.Lock()
	conn, encrypt := c.conn, c.encrypt
	c.mu.Unlock()
	if conn == nil || encrypt == nil {
		return application.Wrap(application.TransientIO, fmt.Errorf("relay: not connected"))
	}

	plaintext, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	ciphertext, err := encrypt.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("relay: encrypt: %w", err)
	}

	chunks, err := frame.Split(c.cfg.LocalDeviceID, mode, recipientID, ciphertext)
	if err != nil {
		return fmt.Errorf("relay: split: %w", err)
	}
	if chunks == nil {
		out := frame.EncodeData(frame.Data{SenderID: c.cfg.LocalDeviceID, Mode: mode, RecipientID: recipientID, Ciphertext: ciphertext})
		if err := conn.Write(ctx, websocket.MessageBinary, out); err != nil {
			return application.Wrap(application.TransientIO, fmt.Errorf("relay: write frame: %w", err))
		}
		return nil
	}
	for _, ch := range chunks {
		if err := conn.Write(ctx, websocket.MessageBinary, frame.EncodeChunk(ch)); err != nil {
			return application.Wrap(application.TransientIO, fmt.Errorf("relay: write chunk: %w", err))
		}
	}
	return nil
}

func (c *Client) forgetPeer(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.decrypt, deviceID)
	delete(c.links, deviceID)
}

// Peers lists the room members currently known from a session_init
// announcement.
func (c *Client) Peers() []peer.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]peer.Connection, 0, len(c.links))
	for id := range c.links {
		out = append(out, peer.Connection{DeviceID: id, Transport: peer.TransportRelay, State: peer.Active})
	}
	return out
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}
