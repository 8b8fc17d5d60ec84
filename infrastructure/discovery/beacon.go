package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"tiddlysync/application"
)

// Interval is how often a beacon is broadcast (spec.md section 4.2: "≈5s").
const Interval = 5 * time.Second

// Beacon periodically broadcasts this device's identity and hashed room
// memberships on the LAN so other members can discover it without a
// central directory.
type Beacon struct {
	deviceID     string
	deviceName   string
	lanPort      int
	keyring      application.RoomKeyring
	logger       application.Logger
	broadcastDst string

	// limiter caps send rate independent of the ticker, so a burst of
	// RefreshNow calls (e.g. one per room just joined) cannot flood the
	// LAN even if every one of them piles up while a previous send is
	// still in flight.
	limiter *rate.Limiter

	refresh chan struct{}
}

// NewBeacon builds a Beacon for lanPort (the local LAN WebSocket server's
// bound port, announced so peers know where to dial back).
func NewBeacon(deviceID, deviceName string, lanPort int, keyring application.RoomKeyring, logger application.Logger) *Beacon {
	return &Beacon{
		deviceID:     deviceID,
		deviceName:   deviceName,
		lanPort:      lanPort,
		keyring:      keyring,
		logger:       logger,
		broadcastDst: fmt.Sprintf("255.255.255.255:%d", Port),
		limiter:      rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		refresh:      make(chan struct{}, 1),
	}
}

// RefreshNow requests an out-of-cadence beacon send, e.g. right after
// joining a new room, without waiting for the next tick. Non-blocking:
// if a refresh is already pending it is coalesced.
func (b *Beacon) RefreshNow() {
	select {
	case b.refresh <- struct{}{}:
	default:
	}
}

// Run broadcasts beacons every Interval, plus on-demand via RefreshNow,
// until ctx is done.
func (b *Beacon) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return application.Wrap(application.TransientIO, fmt.Errorf("discovery: open beacon socket: %w", err))
	}
	defer conn.Close()
	conn.SetWriteBuffer(1 << 16)
	if err := enableBroadcast(conn); err != nil {
		return application.Wrap(application.TransientIO, fmt.Errorf("discovery: enable broadcast: %w", err))
	}

	dst, err := net.ResolveUDPAddr("udp4", b.broadcastDst)
	if err != nil {
		return application.Wrap(application.Configuration, fmt.Errorf("discovery: resolve broadcast address: %w", err))
	}
	pc := ipv4.NewPacketConn(conn)

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		if err := b.send(ctx, conn, pc, dst); err != nil {
			b.logger.Printf("discovery: beacon send failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-b.refresh:
		}
	}
}

func (b *Beacon) send(ctx context.Context, conn *net.UDPConn, pc *ipv4.PacketConn, dst *net.UDPAddr) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	packet := beaconPacket{
		DeviceID:   b.deviceID,
		DeviceName: b.deviceName,
		Port:       b.lanPort,
		RoomHashes: b.keyring.RoomHashes(),
	}
	raw, err := encodeBeacon(packet)
	if err != nil {
		return err
	}
	_, broadcastErr := conn.WriteToUDP(raw, dst)
	// The limited broadcast address never crosses a router; multicast
	// reaches peers on segments that filter it, so both go out on every
	// tick rather than picking one.
	multicastErr := sendMulticast(pc, raw)
	if broadcastErr != nil {
		return broadcastErr
	}
	return multicastErr
}
