package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"tiddlysync/application"
)

// LossTimeout is how long a peer may go unseen before it is reported as
// lost, unless ConnectedPeerIDs still lists it (spec.md section 4.2).
const LossTimeout = 20 * time.Second

const pruneInterval = 5 * time.Second

const readBufferSize = 2048

type sighting struct {
	application.PeerSighting
	lastSeen time.Time
}

// Listener receives beacons broadcast by other devices and turns them
// into application.PeerSighting / Lost events, implementing
// application.Discovery.
type Listener struct {
	selfDeviceID     string
	connectedPeerIDs func() map[string]bool
	logger           application.Logger

	mu       sync.Mutex
	lastSeen map[string]sighting

	sightings chan application.PeerSighting
	lost      chan string
	closed    chan struct{}
	closeOnce sync.Once
}

var _ application.Discovery = (*Listener)(nil)

// NewListener builds a Listener. connectedPeerIDs is consulted on every
// prune pass so a live peer whose beacon packet happened to be dropped
// is never reported lost (the shared connected_peer_ids invariant from
// spec.md section 4.2); pass a func returning an empty map if no such
// set is wired up yet.
func NewListener(selfDeviceID string, connectedPeerIDs func() map[string]bool, logger application.Logger) *Listener {
	return &Listener{
		selfDeviceID:     selfDeviceID,
		connectedPeerIDs: connectedPeerIDs,
		logger:           logger,
		lastSeen:         make(map[string]sighting),
		sightings:        make(chan application.PeerSighting, 64),
		lost:             make(chan string, 64),
		closed:           make(chan struct{}),
	}
}

func (l *Listener) Sightings() <-chan application.PeerSighting { return l.sightings }
func (l *Listener) Lost() <-chan string                        { return l.lost }

// Start binds the beacon port and runs the receive and prune loops until
// ctx is done or Stop is called. It blocks; call it in its own goroutine.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: Port})
	if err != nil {
		return application.Wrap(application.TransientIO, fmt.Errorf("discovery: bind beacon port %d: %w", Port, err))
	}
	if err := joinMulticastGroups(ipv4.NewPacketConn(conn)); err != nil {
		l.logger.Printf("discovery: join multicast group: %v", err)
	}

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go l.pruneLoop(ctx)

	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.closed:
				return nil
			default:
				l.logger.Printf("discovery: beacon read failed: %v", err)
				return application.Wrap(application.TransientIO, fmt.Errorf("discovery: beacon read: %w", err))
			}
		}
		packet, err := decodeBeacon(buf[:n])
		if err != nil {
			l.logger.Printf("security: malformed beacon from %s: %v", addr, err)
			continue
		}
		if packet.DeviceID == l.selfDeviceID {
			continue // our own broadcast, looped back
		}
		l.observe(packet, addr)
	}
}

func (l *Listener) observe(packet beaconPacket, addr *net.UDPAddr) {
	s := application.PeerSighting{
		DeviceID:   packet.DeviceID,
		DeviceName: packet.DeviceName,
		Addr:       addr.IP.String(),
		Port:       packet.Port,
		RoomHashes: packet.RoomHashes,
	}
	l.mu.Lock()
	l.lastSeen[packet.DeviceID] = sighting{PeerSighting: s, lastSeen: time.Now()}
	l.mu.Unlock()

	select {
	case l.sightings <- s:
	default:
		l.logger.Printf("discovery: sightings channel full, dropping sighting for %s", packet.DeviceID)
	}
}

func (l *Listener) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.closed:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *Listener) prune() {
	connected := l.connectedPeerIDs()
	now := time.Now()

	l.mu.Lock()
	var expired []string
	for deviceID, s := range l.lastSeen {
		if connected[deviceID] {
			continue
		}
		if now.Sub(s.lastSeen) > LossTimeout {
			expired = append(expired, deviceID)
			delete(l.lastSeen, deviceID)
		}
	}
	l.mu.Unlock()

	for _, deviceID := range expired {
		select {
		case l.lost <- deviceID:
		default:
			l.logger.Printf("discovery: lost channel full, dropping loss event for %s", deviceID)
		}
	}
}

func (l *Listener) Stop() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}
