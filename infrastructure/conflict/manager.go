// Package conflict implements the vector-clock-based conflict resolution
// engine from spec.md section 4.3: a Manager exposes the five
// comparison/recording operations on top of an application.ClockStore,
// and Store persists that state to a JSON sidecar per wiki with
// dirty-flag flush coalescing.
//
// Grounded in domain/vectorclock for the causal comparison itself; the
// Manager only adds device identity and timestamp tiebreaking on top.
package conflict

import (
	"time"

	"tiddlysync/application"
	"tiddlysync/domain/tombstone"
	"tiddlysync/domain/vectorclock"
	"tiddlysync/domain/wiki"
)

// Manager implements the five ConflictManager operations from spec.md
// section 4.3 against an application.ClockStore.
type Manager struct {
	deviceID string
	store    application.ClockStore
}

// NewManager builds a Manager stamping local changes with deviceID.
func NewManager(deviceID string, store application.ClockStore) *Manager {
	return &Manager{deviceID: deviceID, store: store}
}

// RecordLocalChange increments our entry in the stored clock for
// (wikiID, title) and returns the new clock to stamp on the outbound
// message.
func (m *Manager) RecordLocalChange(wikiID, title string) vectorclock.Clock {
	next := m.store.Clock(wikiID, title).Increment(m.deviceID)
	m.store.SetClock(wikiID, title, next)
	return next
}

// RecordLocalDeletion does the same as RecordLocalChange, plus records a
// tombstone so a late-arriving stale write never resurrects the tiddler.
func (m *Manager) RecordLocalDeletion(wikiID, title string) vectorclock.Clock {
	next := m.RecordLocalChange(wikiID, title)
	m.store.PutTombstone(tombstone.Tombstone{
		WikiID:    wikiID,
		Title:     title,
		Clock:     next,
		DeletedAt: time.Now(),
	})
	return next
}

// AcceptRemoteClock stores remoteClock as the new reference point for
// (wikiID, title) after ShouldApply has already decided the remote side
// wins. Unlike RecordLocalChange this does not increment our own entry:
// the clock we adopt is exactly the one the remote sender stamped, so a
// later comparison against a third device sees the same causal history
// it saw.
func (m *Manager) AcceptRemoteClock(wikiID, title string, remoteClock vectorclock.Clock) {
	m.store.SetClock(wikiID, title, remoteClock)
}

// AcceptRemoteDeletion is AcceptRemoteClock plus the tombstone bookkeeping
// RecordLocalDeletion does for a local delete, so a late-arriving stale
// write for title never resurrects it.
func (m *Manager) AcceptRemoteDeletion(wikiID, title string, remoteClock vectorclock.Clock) {
	m.AcceptRemoteClock(wikiID, title, remoteClock)
	m.store.PutTombstone(tombstone.Tombstone{
		WikiID:    wikiID,
		Title:     title,
		Clock:     remoteClock,
		DeletedAt: time.Now(),
	})
}

// Compare classifies how local relates causally to remote.
func (m *Manager) Compare(local, remote vectorclock.Clock) vectorclock.Relation {
	return vectorclock.Compare(local, remote)
}

// ShouldApply reports whether an incoming update for (wikiID, title)
// should overwrite local state: true iff remoteClock strictly dominates
// the stored clock. Equal clocks return false (idempotence — the same
// update arriving twice, e.g. over both LAN and relay, must not
// re-apply). A concurrent pair resolves by whichever side has the later
// modification timestamp, ties broken by the lexicographically larger
// device_id (spec.md section 4.3).
func (m *Manager) ShouldApply(wikiID, title string, remoteClock vectorclock.Clock, remoteModified, localModified time.Time, remoteDeviceID string) bool {
	stored := m.store.Clock(wikiID, title)
	switch vectorclock.Compare(stored, remoteClock) {
	case vectorclock.Equal, vectorclock.LocalNewer:
		return false
	case vectorclock.RemoteNewer:
		return true
	default: // Concurrent
		if !remoteModified.Equal(localModified) {
			return remoteModified.After(localModified)
		}
		return remoteDeviceID > m.deviceID
	}
}

// Tombstones returns wikiID's recorded deletions, for callers excluding
// dominated-tombstone titles from a fingerprint diff (spec.md section
// 4.4, step 4).
func (m *Manager) Tombstones(wikiID string) []tombstone.Tombstone {
	return m.store.Tombstones(wikiID)
}

// ShouldSyncTiddler reports whether title is eligible for replication at
// all (internal/state tiddlers never cross the wire).
func (m *Manager) ShouldSyncTiddler(title string) bool {
	return wiki.ShouldSync(title)
}
