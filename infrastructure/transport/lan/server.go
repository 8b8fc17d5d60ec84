package lan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"tiddlysync/application"
	"tiddlysync/domain/message"
	"tiddlysync/domain/peer"
)

// ReadLimit bounds a single WebSocket frame, generously sized for the
// largest unsplit payload (frame.ChunkThreshold) plus framing overhead.
const ReadLimit = 2 * 1024 * 1024

const (
	wsPath            = "/tiddlysync"
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server accepts inbound LAN WebSocket connections, performs the
// handshake against RoomKeyring, and surfaces decoded envelopes through
// Receive, implementing application.Transport. Grounded in the teacher's
// tungo/infrastructure/network/ws/server (an http.Server wrapping one
// upgrade handler, context-driven shutdown).
type Server struct {
	local   localIdentity
	keyring application.RoomKeyring
	logger  application.Logger

	listener net.Listener
	httpSrv  *http.Server

	inbound chan inboundMsg

	mu    sync.Mutex
	links map[string]*Link // keyed by remote device id

	startOnce, closeOnce sync.Once
	closed               chan struct{}
}

var _ application.Transport = (*Server)(nil)

// NewServer binds listener (already listening, e.g. net.Listen("tcp",
// ":0")) and begins accepting WebSocket upgrades on it.
func NewServer(ctx context.Context, listener net.Listener, deviceID, deviceName string, keyring application.RoomKeyring, logger application.Logger) *Server {
	s := &Server{
		local:    localIdentity{DeviceID: deviceID, DeviceName: deviceName},
		keyring:  keyring,
		logger:   logger,
		listener: listener,
		inbound:  make(chan inboundMsg, 64),
		links:    make(map[string]*Link),
		closed:   make(chan struct{}),
	}
	s.start(ctx)
	return s
}

// Addr reports the bound listener address (for beacon announcements).
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) start(ctx context.Context) {
	s.startOnce.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc(wsPath, func(w http.ResponseWriter, r *http.Request) {
			s.handleUpgrade(ctx, w, r)
		})
		s.httpSrv = &http.Server{
			Handler:           mux,
			BaseContext:       func(net.Listener) context.Context { return ctx },
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
		}
		go func() {
			if err := s.httpSrv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Printf("lan: server stopped: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = s.Stop()
		}()
	})
}

func (s *Server) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{CompressionMode: websocket.CompressionDisabled})
	if err != nil {
		s.logger.Printf("lan: upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(ReadLimit)

	link, err := runAcceptorHandshake(ctx, conn, r.RemoteAddr, s.keyring)
	if err != nil {
		s.logger.Printf("security: lan handshake from %s rejected: %v", r.RemoteAddr, err)
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}

	s.registerLink(link)
	go link.readLoop(ctx, s.inbound)
}

// Adopt registers a Link obtained from an outbound Dial (the
// tie-broken-initiator side of section 4.2's mutual connect) so its
// frames flow through the same Receive loop as accepted connections.
func (s *Server) Adopt(ctx context.Context, link *Link) {
	s.registerLink(link)
	go link.readLoop(ctx, s.inbound)
}

func (s *Server) registerLink(link *Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.links[link.DeviceID()]; ok {
		// At most one active connection per (device_id, transport); the
		// losing side of a duplicate is dropped (spec.md section 3).
		_ = existing.Close()
	}
	s.links[link.DeviceID()] = link
}

// LinkByDeviceID returns the active LAN link to deviceID, if any, for
// Router's direct send_to_peer_any routing.
func (s *Server) LinkByDeviceID(deviceID string) (*Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[deviceID]
	return l, ok
}

// Links returns every currently active link authenticated against
// roomCode, for Router's LAN broadcast fan-out.
func (s *Server) Links(roomCode string) []*Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Link, 0, len(s.links))
	for _, l := range s.links {
		if l.RoomCode() == roomCode {
			out = append(out, l)
		}
	}
	return out
}

// Peers lists every currently active accepted or adopted connection, for
// Router's "who is reachable right now" view.
func (s *Server) Peers() []peer.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]peer.Connection, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, peer.Connection{DeviceID: l.DeviceID(), Transport: peer.TransportLAN, State: peer.Active})
	}
	return out
}

// Receive implements application.Transport.
func (s *Server) Receive(ctx context.Context) (application.PeerLink, message.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, message.Envelope{}, ctx.Err()
	case msg := <-s.inbound:
		if msg.err != nil {
			s.mu.Lock()
			delete(s.links, msg.link.DeviceID())
			s.mu.Unlock()
			_ = msg.link.Close()
			return msg.link, message.Envelope{}, fmt.Errorf("lan: %s: %w", msg.link.RemoteAddr(), msg.err)
		}
		return msg.link, msg.env, nil
	}
}

func (s *Server) Stop() error {
	var err error
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = s.httpSrv.Shutdown(ctx)
		s.mu.Lock()
		for _, l := range s.links {
			_ = l.Close()
		}
		s.mu.Unlock()
		close(s.closed)
	})
	return err
}
