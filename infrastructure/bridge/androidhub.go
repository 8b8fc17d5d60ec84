package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"tiddlysync/application"
)

// AndroidHub is the in-process HTTP poll bridge the Android editor
// service uses instead of IPCServer's long-lived TCP connection: the
// service POSTs commands to /commands as they happen and GETs /events to
// drain whatever the core has queued since the last poll (spec.md
// section 6 — "the OS's process lifecycle model makes long-lived
// sockets unreliable").
type AndroidHub struct {
	logger application.Logger

	listener net.Listener
	httpSrv  *http.Server

	commands chan application.BridgeCommand

	mu      sync.Mutex
	pending []outboundEnvelope

	closeOnce sync.Once
	closed    chan struct{}
}

var _ application.Bridge = (*AndroidHub)(nil)

// NewAndroidHub binds a random loopback port.
func NewAndroidHub(logger application.Logger) (*AndroidHub, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bridge: listen: %w", err)
	}

	h := &AndroidHub{
		logger:   logger,
		listener: listener,
		commands: make(chan application.BridgeCommand, 64),
		closed:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/commands", h.handleCommands)
	mux.HandleFunc("/events", h.handleEvents)
	h.httpSrv = &http.Server{Handler: mux}

	return h, nil
}

// Addr reports the bound loopback address, passed to the Android editor
// service at startup.
func (h *AndroidHub) Addr() net.Addr { return h.listener.Addr() }

// Start begins serving HTTP. Non-blocking.
func (h *AndroidHub) Start(ctx context.Context) error {
	go func() {
		if err := h.httpSrv.Serve(h.listener); err != nil && err != http.ErrServerClosed {
			h.logger.Printf("bridge: android hub serve: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = h.Stop()
	}()
	return nil
}

func (h *AndroidHub) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var header commandHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cmd := application.BridgeCommand{Type: header.Type, WikiID: header.WikiID, Payload: raw}
	select {
	case h.commands <- cmd:
		w.WriteHeader(http.StatusAccepted)
	default:
		// The queue is full and the editor service will retry on its next
		// poll tick; a 503 tells it to back off rather than spin.
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (h *AndroidHub) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.mu.Lock()
	events := h.pending
	h.pending = nil
	h.mu.Unlock()

	if events == nil {
		events = []outboundEnvelope{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}

// Commands returns the inbound command stream.
func (h *AndroidHub) Commands() <-chan application.BridgeCommand {
	return h.commands
}

// EmitToEditors queues an event for the next /events poll.
func (h *AndroidHub) EmitToEditors(wikiID string, eventType string, payload any) error {
	h.mu.Lock()
	h.pending = append(h.pending, outboundEnvelope{Type: eventType, WikiID: wikiID, Payload: payload})
	h.mu.Unlock()
	return nil
}

// Stop shuts down the HTTP server.
func (h *AndroidHub) Stop() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.closed)
		err = h.httpSrv.Close()
	})
	return err
}
