package discovery

import (
	"context"
	"sync"
	"time"
)

// ReconnectSchedule is the fixed LAN reconnect backoff from spec.md
// section 4.2: 2, 4, 8, 16, then 30s capped.
var ReconnectSchedule = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}

// MaxReconnectAttempts caps how many scheduled reconnects a lost peer
// gets before Backoff gives up on it.
const MaxReconnectAttempts = 10

func backoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(ReconnectSchedule) {
		idx = len(ReconnectSchedule) - 1
	}
	return ReconnectSchedule[idx]
}

// Backoff schedules reconnect attempts for peers that unexpectedly
// disconnect, one independently cancelable timer per device_id. A
// successful connect or a fresh beacon cancels the pending schedule
// (spec.md section 4.2).
type Backoff struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewBackoff builds an empty per-peer reconnect scheduler.
func NewBackoff() *Backoff {
	return &Backoff{
		cancels: make(map[string]context.CancelFunc),
	}
}

// Schedule starts (or restarts) the reconnect schedule for deviceID,
// calling attempt(ctx) at each of ReconnectSchedule's delays until it
// succeeds (attempt returns nil), MaxReconnectAttempts is exhausted, or
// Cancel is called for this device_id.
func (b *Backoff) Schedule(ctx context.Context, deviceID string, attempt func(context.Context) error) {
	b.Cancel(deviceID)

	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancels[deviceID] = cancel
	b.mu.Unlock()

	go b.run(ctx, deviceID, attempt)
}

func (b *Backoff) run(ctx context.Context, deviceID string, attempt func(context.Context) error) {
	for n := 1; n <= MaxReconnectAttempts; n++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoffDelay(n)):
		}
		if err := attempt(ctx); err == nil {
			b.Cancel(deviceID)
			return
		}
	}
}

// Cancel aborts any pending reconnect schedule for deviceID. Safe to call
// when none is pending.
func (b *Backoff) Cancel(deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cancel, ok := b.cancels[deviceID]; ok {
		cancel()
		delete(b.cancels, deviceID)
	}
}
