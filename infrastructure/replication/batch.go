package replication

import (
	"time"

	"tiddlysync/domain/message"
	"tiddlysync/domain/vectorclock"
)

// ConflictManager is the subset of infrastructure/conflict.Manager that
// batch application needs, kept as an interface so this package doesn't
// import conflict directly and tests can fake it.
type ConflictManager interface {
	ShouldApply(wikiID, title string, remoteClock vectorclock.Clock, remoteModified, localModified time.Time, remoteDeviceID string) bool
}

// ApplyResult is the outcome of filtering a FullSyncBatch through a
// ConflictManager: which tiddlers actually carry new information.
type ApplyResult struct {
	Applied    []message.TiddlerChanged
	AppliedAny bool
}

// ApplyBatch filters batch down to the tiddlers that should actually
// apply against what's locally known, per tiddler, via
// ConflictManager.ShouldApply. localModified looks up the modification
// time we currently have on file for a title (zero time if we have
// none). Delivering the identical batch twice — the same FullSyncBatch
// replayed over both LAN and relay, or after a reconnect — yields an
// empty ApplyResult the second time, since every title's clock already
// matches or dominates.
func ApplyBatch(cm ConflictManager, wikiID string, batch message.FullSyncBatch, localModified func(title string) time.Time, peerDeviceID string) ApplyResult {
	result := ApplyResult{Applied: make([]message.TiddlerChanged, 0, len(batch.Tiddlers))}
	for _, t := range batch.Tiddlers {
		remoteModified, err := time.Parse(time.RFC3339Nano, t.Modified)
		if err != nil {
			remoteModified = time.Time{}
		}
		if cm.ShouldApply(wikiID, t.Title, t.Clock, remoteModified, localModified(t.Title), peerDeviceID) {
			result.Applied = append(result.Applied, t)
		}
	}
	result.AppliedAny = len(result.Applied) > 0
	return result
}
