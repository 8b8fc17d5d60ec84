package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"tiddlysync/application"
	"tiddlysync/domain/message"
)

// readLimit bounds an inbound frame on the loopback hub; the editor side
// is effectively a pure sink, so this only guards against a misbehaving
// local client.
const readLimit = 1024 * 1024

// LoopbackHub is a second coder/websocket server bound to a random
// loopback port, pushing CollabUpdate/CollabAwareness straight to the
// local editor's bridge client — lower latency than round-tripping
// through the desktop IPC connection (spec.md section 4.7). Grounded in
// infrastructure/transport/lan.Server's http.Server-plus-upgrade-handler
// shape, simplified: no handshake or encryption, since this never leaves
// loopback.
type LoopbackHub struct {
	logger application.Logger

	listener net.Listener
	httpSrv  *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewLoopbackHub binds 127.0.0.1:0 and starts accepting connections.
func NewLoopbackHub(ctx context.Context, logger application.Logger) (*LoopbackHub, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("collab: listen: %w", err)
	}

	h := &LoopbackHub{
		logger:   logger,
		listener: listener,
		conns:    make(map[*websocket.Conn]struct{}),
		closed:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleUpgrade)
	h.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := h.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Printf("collab: loopback hub serve: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = h.Close()
	}()

	return h, nil
}

// Addr reports the bound loopback address, to pass to the editor over
// the desktop IPC handshake.
func (h *LoopbackHub) Addr() net.Addr { return h.listener.Addr() }

func (h *LoopbackHub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	conn.SetReadLimit(readLimit)

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
		// The editor client is a pure sink here; inbound frames aren't
		// expected, but draining them keeps the read loop (and therefore
		// disconnect detection) alive.
	}
}

// BroadcastUpdate pushes a CollabUpdate to every connected editor client.
func (h *LoopbackHub) BroadcastUpdate(ctx context.Context, update message.CollabUpdate) error {
	return h.broadcast(ctx, message.TypeCollabUpdate, update)
}

// BroadcastAwareness pushes a CollabAwareness to every connected editor
// client.
func (h *LoopbackHub) BroadcastAwareness(ctx context.Context, awareness message.CollabAwareness) error {
	return h.broadcast(ctx, message.TypeCollabAwareness, awareness)
}

func (h *LoopbackHub) broadcast(ctx context.Context, t message.Type, payload any) error {
	env, err := message.Encode(t, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("collab: marshal envelope: %w", err)
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, raw); err != nil {
			h.logger.Printf("collab: write to editor client failed: %v", err)
		}
	}
	return nil
}

// Close shuts down the hub and every connected client.
func (h *LoopbackHub) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.closed)
		err = h.httpSrv.Close()
	})
	return err
}
