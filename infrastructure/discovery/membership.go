package discovery

import (
	"context"
	"sync"
	"time"

	"tiddlysync/application"
)

// FallbackDelay is how long the lexicographically larger device_id waits
// before initiating the connection itself, in case the smaller side
// never does (spec.md section 4.2).
const FallbackDelay = 3 * time.Second

// Connector dials a sighted peer and registers the resulting link,
// implemented by infrastructure/transport in production (Dial + Router
// registration behind one call).
type Connector interface {
	Connect(ctx context.Context, addr string, port int, roomCode string) error
}

// Membership applies the tie-broken mutual-connect rule on top of raw
// beacon sightings: of two devices that see each other in a shared room,
// only the lexicographically smaller device_id initiates, with a 3s
// fallback so the connection still happens if that side is unreachable.
// Lost peers are handed to Backoff for scheduled reconnect attempts.
type Membership struct {
	selfDeviceID string
	keyring      application.RoomKeyring
	connector    Connector
	logger       application.Logger
	backoff      *Backoff

	mu              sync.Mutex
	lastKnownAddr   map[string]sightingAddr // device_id -> last seen (addr, port, room)
	pendingFallback map[string]context.CancelFunc
}

type sightingAddr struct {
	addr     string
	port     int
	roomCode string
}

// NewMembership builds a Membership that dials out through connector.
func NewMembership(selfDeviceID string, keyring application.RoomKeyring, connector Connector, logger application.Logger) *Membership {
	return &Membership{
		selfDeviceID:    selfDeviceID,
		keyring:         keyring,
		connector:       connector,
		logger:          logger,
		backoff:         NewBackoff(),
		lastKnownAddr:   make(map[string]sightingAddr),
		pendingFallback: make(map[string]context.CancelFunc),
	}
}

// Run consumes sightings and loss events from d until ctx is done,
// driving connects and reconnects.
func (m *Membership) Run(ctx context.Context, d application.Discovery) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-d.Sightings():
			if !ok {
				return
			}
			m.onSighting(ctx, s)
		case deviceID, ok := <-d.Lost():
			if !ok {
				return
			}
			m.onLost(ctx, deviceID)
		}
	}
}

func (m *Membership) onSighting(ctx context.Context, s application.PeerSighting) {
	roomCode, ok := m.sharedRoomCode(s.RoomHashes)
	if !ok {
		return // no room in common
	}
	m.backoff.Cancel(s.DeviceID) // a fresh beacon cancels any pending reconnect

	m.mu.Lock()
	m.lastKnownAddr[s.DeviceID] = sightingAddr{addr: s.Addr, port: s.Port, roomCode: roomCode}
	m.mu.Unlock()

	if s.DeviceID < m.selfDeviceID {
		// Smaller side initiates immediately; we wait to see if it does.
		m.armFallback(ctx, s.DeviceID, s.Addr, s.Port, roomCode)
		return
	}

	// We are the smaller id: initiate now.
	m.cancelFallback(s.DeviceID)
	if err := m.connector.Connect(ctx, s.Addr, s.Port, roomCode); err != nil {
		m.logger.Printf("discovery: connect to %s failed: %v", s.DeviceID, err)
	}
}

// armFallback starts (or leaves running) the 3s fallback timer for a
// peer whose smaller device_id should have initiated.
func (m *Membership) armFallback(ctx context.Context, deviceID, addr string, port int, roomCode string) {
	m.mu.Lock()
	if _, already := m.pendingFallback[deviceID]; already {
		m.mu.Unlock()
		return
	}
	fallbackCtx, cancel := context.WithCancel(ctx)
	m.pendingFallback[deviceID] = cancel
	m.mu.Unlock()

	go func() {
		select {
		case <-fallbackCtx.Done():
			return
		case <-time.After(FallbackDelay):
		}
		m.mu.Lock()
		delete(m.pendingFallback, deviceID)
		m.mu.Unlock()
		if err := m.connector.Connect(ctx, addr, port, roomCode); err != nil {
			m.logger.Printf("discovery: fallback connect to %s failed: %v", deviceID, err)
		}
	}()
}

func (m *Membership) cancelFallback(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.pendingFallback[deviceID]; ok {
		cancel()
		delete(m.pendingFallback, deviceID)
	}
}

func (m *Membership) onLost(ctx context.Context, deviceID string) {
	m.mu.Lock()
	last, ok := m.lastKnownAddr[deviceID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.backoff.Schedule(ctx, deviceID, func(attemptCtx context.Context) error {
		return m.connector.Connect(attemptCtx, last.addr, last.port, last.roomCode)
	})
}

// sharedRoomCode finds a room we have joined whose hash is in hashes.
func (m *Membership) sharedRoomCode(hashes []string) (string, bool) {
	for _, h := range hashes {
		if code, ok := m.keyring.RoomCodeForHash(h); ok {
			return code, true
		}
	}
	return "", false
}
