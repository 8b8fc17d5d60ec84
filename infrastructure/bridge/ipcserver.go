// Package bridge implements the editor<->core IPC surfaces from
// spec.md section 6: IPCServer is the desktop newline-delimited-JSON TCP
// protocol, AndroidHub is the in-process HTTP poll bridge Android uses
// instead, since its process lifecycle model makes long-lived sockets
// unreliable.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"tiddlysync/application"
)

// MaxConcurrentClients bounds the desktop IPC server (spec.md section
// 6): an editor process registers once per wiki window, so 100 is far
// above any real usage and exists only as a backstop against a runaway
// child process.
const MaxConcurrentClients = 100

// HandshakeTimeout is how long a freshly accepted connection has to send
// its auth message before IPCServer drops it. There is no idle timeout
// afterward.
const HandshakeTimeout = 30 * time.Second

type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type commandHeader struct {
	Type   string `json:"type"`
	WikiID string `json:"wiki_id"`
}

type outboundEnvelope struct {
	Type    string `json:"type"`
	WikiID  string `json:"wiki_id,omitempty"`
	Payload any    `json:"payload"`
}

type ipcClient struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// IPCServer accepts TCP connections on a fixed loopback port, requires a
// single auth frame carrying the shared token within HandshakeTimeout,
// then exchanges newline-delimited JSON indefinitely. Grounded in the
// teacher's http.Server-style accept-loop-plus-per-connection-goroutine
// shape (infrastructure/transport/lan.Server), adapted from WebSocket
// framing to a raw NDJSON stream since desktop editor processes speak
// plain TCP here.
type IPCServer struct {
	listener net.Listener
	token    string
	logger   application.Logger

	commands chan application.BridgeCommand

	mu      sync.Mutex
	clients map[*ipcClient]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

var _ application.Bridge = (*IPCServer)(nil)

// NewIPCServer wraps an already-bound listener (typically
// net.Listen("tcp", "127.0.0.1:<fixed port>")).
func NewIPCServer(listener net.Listener, token string, logger application.Logger) *IPCServer {
	return &IPCServer{
		listener: listener,
		token:    token,
		logger:   logger,
		commands: make(chan application.BridgeCommand, 64),
		clients:  make(map[*ipcClient]struct{}),
		closed:   make(chan struct{}),
	}
}

// Start begins accepting connections. Non-blocking.
func (s *IPCServer) Start(ctx context.Context) error {
	go s.acceptLoop(ctx)
	return nil
}

func (s *IPCServer) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				s.logger.Printf("bridge: accept failed: %v", err)
				return
			}
		}

		s.mu.Lock()
		full := len(s.clients) >= MaxConcurrentClients
		s.mu.Unlock()
		if full {
			s.logger.Printf("bridge: rejecting connection, %d clients already connected", MaxConcurrentClients)
			_ = conn.Close()
			continue
		}

		go s.handleClient(ctx, conn)
	}
}

func (s *IPCServer) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		return
	}
	dec := json.NewDecoder(conn)

	var auth authMessage
	if err := dec.Decode(&auth); err != nil {
		return
	}
	if auth.Type != "auth" || auth.Token == "" || auth.Token != s.token {
		s.logger.Printf("security: bridge: rejected client with invalid auth token")
		return
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return
	}

	client := &ipcClient{enc: json.NewEncoder(conn)}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
	}()

	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return
		}
		var header commandHeader
		if err := json.Unmarshal(raw, &header); err != nil {
			s.logger.Printf("bridge: malformed command from client: %v", err)
			continue
		}
		cmd := application.BridgeCommand{Type: header.Type, WikiID: header.WikiID, Payload: raw}
		select {
		case s.commands <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

// Commands returns the inbound command stream from every connected
// editor process.
func (s *IPCServer) Commands() <-chan application.BridgeCommand {
	return s.commands
}

// EmitToEditors fans eventType/payload out to every currently connected
// client.
func (s *IPCServer) EmitToEditors(wikiID string, eventType string, payload any) error {
	env := outboundEnvelope{Type: eventType, WikiID: wikiID, Payload: payload}

	s.mu.Lock()
	clients := make([]*ipcClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		c.mu.Lock()
		err := c.enc.Encode(env)
		c.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("bridge: emit to client: %w", err)
		}
	}
	return firstErr
}

// Stop closes the listener, ending the accept loop.
func (s *IPCServer) Stop() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.listener.Close()
	})
	return err
}
