// Package syncmanager implements the "god actor" event loop from
// spec.md section 9: a single goroutine owns every piece of shared
// mutable state (known wikis, per-title modification times, attachment
// and wiki-transfer state machines, collaborative-editing presence) and
// serializes all mutation through one select loop fed by transport
// receive pumps, the editor bridge, and timers. Concurrent access only
// happens at the edges — transport pumps and the attachment/wikitransfer
// I/O this package hands to errgroup.Group — never against Manager's own
// maps.
package syncmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tiddlysync/application"
	"tiddlysync/domain/message"
	"tiddlysync/domain/room"
	"tiddlysync/domain/wiki"
	"tiddlysync/infrastructure/attachment"
	"tiddlysync/infrastructure/bridge"
	"tiddlysync/infrastructure/collab"
	"tiddlysync/infrastructure/conflict"
	"tiddlysync/infrastructure/replication"
	"tiddlysync/infrastructure/transport/lan"
	"tiddlysync/infrastructure/transport/relay"
	"tiddlysync/infrastructure/wikitransfer"
)

// inboundEnvelope is one decrypted message off any transport, tagged
// with the link it arrived on so handlers can address a reply and the
// event loop can attribute a failure to the right peer.
type inboundEnvelope struct {
	link application.PeerLink
	env  message.Envelope
	err  error
}

type wikiTitleKey struct {
	WikiID string
	Title  string
}

// attachmentWatchEvent tags a raw application.AttachmentWatch with the
// wiki it came from, since each registered wiki runs its own watcher but
// Run's select only has one channel to wait on.
type attachmentWatchEvent struct {
	wikiID string
	ev     application.AttachmentWatch
}

// wikiState is everything Manager tracks about one registered wiki: its
// folder on disk, its attachment pipeline, and its bootstrap transfer
// state machines. Only ever touched from the Run goroutine.
type wikiState struct {
	wiki          wiki.Wiki
	rootDir       string
	attachmentDir string

	editorOpen bool

	attachSender   *attachment.Sender
	attachReceiver *attachment.Receiver
	watcher        application.AttachmentWatcher

	transferSender   *wikitransfer.Sender
	transferReceiver *wikitransfer.Receiver
}

// Manager wires transports, discovery, conflict resolution, replication,
// attachments, bootstrap transfer, collaborative editing, and the editor
// bridge behind one event loop, per spec.md section 9's design note that
// a single actor with clear message types is more maintainable here than
// fine-grained per-map locking.
type Manager struct {
	deviceID     string
	baseWikisDir string
	logger       application.Logger

	router  application.Router
	keyring application.RoomKeyring

	lanServer *lan.Server

	conflictMgr *conflict.Manager
	replication *replication.Engine
	presence    *collab.Presence
	hub         *collab.LoopbackHub
	editorBridge application.Bridge

	inbound       chan inboundEnvelope
	watcherEvents chan attachmentWatchEvent
	pool          errgroup.Group

	mu    sync.Mutex // guards relayClients only; wikis/modified are event-loop-only
	relayClients map[string]*relay.Client

	wikis    map[string]*wikiState    // by wiki id
	modified map[wikiTitleKey]time.Time
}

// Config collects the already-constructed adapters Manager coordinates.
// Every field is built by cmd/tiddlysyncd's wiring before Run starts.
type Config struct {
	DeviceID     string
	BaseWikisDir string // default destination folder for an inbound bootstrap transfer
	Logger       application.Logger
	Router      application.Router
	Keyring     application.RoomKeyring
	LANServer   *lan.Server
	Conflict    *conflict.Manager
	Replication *replication.Engine
	Presence    *collab.Presence
	Hub         *collab.LoopbackHub
	Bridge      application.Bridge
}

// New builds a Manager from cfg. Call JoinRoom for each room with a
// relay configured, then Run to start the event loop.
func New(cfg Config) *Manager {
	return &Manager{
		deviceID:     cfg.DeviceID,
		baseWikisDir: cfg.BaseWikisDir,
		logger:       cfg.Logger,
		router:       cfg.Router,
		keyring:      cfg.Keyring,
		lanServer:    cfg.LANServer,
		conflictMgr:  cfg.Conflict,
		replication:  cfg.Replication,
		presence:     cfg.Presence,
		hub:          cfg.Hub,
		editorBridge: cfg.Bridge,
		inbound:       make(chan inboundEnvelope, 128),
		watcherEvents: make(chan attachmentWatchEvent, 64),
		relayClients: make(map[string]*relay.Client),
		wikis:        make(map[string]*wikiState),
		modified:     make(map[wikiTitleKey]time.Time),
	}
}

// relayAdder is the subset of application.Router JoinRoom/LeaveRoom need,
// so this package can register a room's relay client without importing
// infrastructure/transport/router directly.
type relayAdder interface {
	AddRelay(roomCode string, client *relay.Client)
	RemoveRelay(roomCode string)
}

// JoinRoom registers client as roomCode's relay route (if the room has
// one configured — LAN-only rooms call this with a nil client) and
// starts pumping its inbound envelopes into the event loop. client.Run
// is the caller's responsibility: it owns the reconnect-with-backoff
// loop independent of Manager's own lifecycle.
func (m *Manager) JoinRoom(ctx context.Context, roomCode string, client *relay.Client) {
	if client == nil {
		return
	}
	m.mu.Lock()
	m.relayClients[roomCode] = client
	m.mu.Unlock()

	if adder, ok := m.router.(relayAdder); ok {
		adder.AddRelay(roomCode, client)
	}
	go m.pumpTransport(ctx, client)
}

// LeaveRoom drops roomCode's relay route.
func (m *Manager) LeaveRoom(roomCode string) {
	m.mu.Lock()
	client := m.relayClients[roomCode]
	delete(m.relayClients, roomCode)
	m.mu.Unlock()

	if adder, ok := m.router.(relayAdder); ok {
		adder.RemoveRelay(roomCode)
	}
	if client != nil {
		_ = client.Close()
	}
}

// Connect implements discovery.Connector: dials a sighted LAN peer and
// adopts the resulting link into the shared server, whose own Receive
// loop the already-running lanServer pump drains.
func (m *Manager) Connect(ctx context.Context, addr string, port int, roomCode string) error {
	target := fmt.Sprintf("%s:%d", addr, port)
	link, err := lan.Dial(ctx, target, roomCode, m.deviceID, m.deviceID, m.keyring)
	if err != nil {
		return err
	}
	m.lanServer.Adopt(ctx, link)
	return nil
}

// Run starts the LAN transport pump and blocks, dispatching inbound
// envelopes and bridge commands until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	go m.pumpTransport(ctx, m.lanServer)

	for {
		select {
		case <-ctx.Done():
			_ = m.pool.Wait()
			return ctx.Err()
		case item := <-m.inbound:
			if item.err != nil {
				m.handleTransportError(item.link, item.err)
				continue
			}
			m.handleInbound(ctx, item.link, item.env)
		case cmd := <-m.editorBridge.Commands():
			m.handleBridgeCommand(ctx, cmd)
		case wev := <-m.watcherEvents:
			m.onLocalAttachmentWatch(ctx, wev.wikiID, wev.ev)
		}
	}
}

// pumpWatcher forwards one wiki's attachment watcher onto the shared
// watcherEvents channel until either the watcher's own channel closes
// (Close was called) or ctx is done.
func (m *Manager) pumpWatcher(ctx context.Context, wikiID string, watcher application.AttachmentWatcher) {
	for {
		select {
		case ev, ok := <-watcher.Watch():
			if !ok {
				return
			}
			select {
			case m.watcherEvents <- attachmentWatchEvent{wikiID: wikiID, ev: ev}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) pumpTransport(ctx context.Context, t application.Transport) {
	for {
		link, env, err := t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case m.inbound <- inboundEnvelope{link: link, err: err}:
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case m.inbound <- inboundEnvelope{link: link, env: env}:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) localModified(wikiID string) func(string) time.Time {
	return func(title string) time.Time {
		return m.modified[wikiTitleKey{WikiID: wikiID, Title: title}]
	}
}

func (m *Manager) recordModified(wikiID, title, ts string) {
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return
	}
	m.modified[wikiTitleKey{WikiID: wikiID, Title: title}] = parsed
}

func decode[T any](env message.Envelope) (T, error) {
	var v T
	err := message.Decode(env, &v)
	return v, err
}

// roomOf resolves the room code a registered wiki syncs under, or "" if
// it isn't assigned to one.
func (m *Manager) roomOf(wikiID string) room.Code {
	if st, ok := m.wikis[wikiID]; ok {
		return st.wiki.RoomCode
	}
	return ""
}
