// Package replication implements the fingerprint-diff and full-sync
// engine from spec.md section 4.4 on top of application.FingerprintStore
// and the wiki.Fingerprint domain type: comparing fingerprint lists to
// find what needs syncing, suppressing redundant exchanges within a
// short window, tracking cache-merge overrides while no editor is open,
// and scheduling the post-batch verification pass.
package replication

import (
	"context"
	"sync"
	"time"

	"tiddlysync/application"
	"tiddlysync/domain/wiki"
)

// DedupWindow suppresses a repeated fingerprint send/forward triggered
// by overlapping events (manifest arrival, wiki open, reciprocal reply)
// within this many seconds (spec.md section 4.4).
const DedupWindow = 3 * time.Second

// VerificationDelay is how long after applying the last batch of a full
// sync Engine waits before re-requesting fingerprints from that peer.
const VerificationDelay = 5 * time.Second

type peerWikiKey struct {
	PeerID string
	WikiID string
}

// Engine holds the in-memory dedup and override state described in
// spec.md section 4.4, layered on top of the persisted fingerprint
// cache.
type Engine struct {
	fingerprints application.FingerprintStore
	logger       application.Logger

	mu            sync.Mutex
	lastSent      map[peerWikiKey]time.Time // fingerprints we sent to a peer
	lastForwarded map[peerWikiKey]time.Time // fingerprints we forwarded to the editor
	overrides     map[string]map[string]struct{}
}

// NewEngine builds an Engine backed by fingerprints for cache
// persistence.
func NewEngine(fingerprints application.FingerprintStore, logger application.Logger) *Engine {
	return &Engine{
		fingerprints:  fingerprints,
		logger:        logger,
		lastSent:      make(map[peerWikiKey]time.Time),
		lastForwarded: make(map[peerWikiKey]time.Time),
		overrides:     make(map[string]map[string]struct{}),
	}
}

// Diff compares our fingerprints against a peer's and returns the titles
// that need a FullSyncBatch entry: present in theirs but either absent
// from ours or stamped with a different modified time. isTombstoned
// excludes titles whose local tombstone already dominates the peer's
// claim (spec.md section 4.4, step 4).
func Diff(ours, theirs []wiki.Fingerprint, isTombstoned func(title string) bool) []string {
	ourModified := make(map[string]string, len(ours))
	for _, fp := range ours {
		ourModified[fp.Title] = fp.ModifiedString
	}

	var needed []string
	for _, fp := range theirs {
		if isTombstoned(fp.Title) {
			continue
		}
		if modified, ok := ourModified[fp.Title]; !ok || modified != fp.ModifiedString {
			needed = append(needed, fp.Title)
		}
	}
	return needed
}

// LoadCached returns the persisted fingerprint cache for wikiID, stale
// data served before the editor has booted (spec.md section 4.4, step
// 2).
func (e *Engine) LoadCached(wikiID string) ([]wiki.Fingerprint, error) {
	return e.fingerprints.Load(wikiID)
}

// SaveCached persists fingerprints as the new cache for wikiID.
func (e *Engine) SaveCached(wikiID string, fingerprints []wiki.Fingerprint) error {
	return e.fingerprints.Save(wikiID, fingerprints)
}

// ShouldSendFingerprints reports whether we may send our fingerprints to
// peerID for wikiID right now, recording the attempt if so. Returns
// false if we already sent within DedupWindow.
func (e *Engine) ShouldSendFingerprints(peerID, wikiID string) bool {
	return e.tryMark(e.lastSent, peerID, wikiID)
}

// ShouldForwardToEditor is the same suppression, applied to forwarding
// an incoming FullSyncBatch on to the local editor over the bridge.
func (e *Engine) ShouldForwardToEditor(peerID, wikiID string) bool {
	return e.tryMark(e.lastForwarded, peerID, wikiID)
}

func (e *Engine) tryMark(m map[peerWikiKey]time.Time, peerID, wikiID string) bool {
	key := peerWikiKey{PeerID: peerID, WikiID: wikiID}
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := m[key]; ok && now.Sub(last) < DedupWindow {
		return false
	}
	m[key] = now
	return true
}

// MarkOverride records that title was merged into wikiID's fingerprint
// cache from a peer's FullSyncBatch while no editor was open — it does
// not yet exist in the actual wiki file, only in the cache.
func (e *Engine) MarkOverride(wikiID, title string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.overrides[wikiID]
	if !ok {
		set = make(map[string]struct{})
		e.overrides[wikiID] = set
	}
	set[title] = struct{}{}
}

// ClearOverrides discards wikiID's override set, called whenever the
// editor sends fresh authoritative fingerprints that supersede the
// cache-only view.
func (e *Engine) ClearOverrides(wikiID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.overrides, wikiID)
}

// FilterOverridden drops any fingerprint whose title is in wikiID's
// override set, so cached fingerprints sent to a peer never falsely
// claim a tiddler we only hold in cache, not in the wiki file.
func (e *Engine) FilterOverridden(wikiID string, fingerprints []wiki.Fingerprint) []wiki.Fingerprint {
	e.mu.Lock()
	overridden := e.overrides[wikiID]
	e.mu.Unlock()
	if len(overridden) == 0 {
		return fingerprints
	}
	out := make([]wiki.Fingerprint, 0, len(fingerprints))
	for _, fp := range fingerprints {
		if _, skip := overridden[fp.Title]; skip {
			continue
		}
		out = append(out, fp)
	}
	return out
}

// ScheduleVerification re-requests fingerprints from peerID for wikiID
// VerificationDelay after a full sync batch was applied, recovering
// from anything lost in transit. A no-op if appliedAny is false (spec.md
// section 4.4: "where at least one tiddler was applied").
func (e *Engine) ScheduleVerification(ctx context.Context, appliedAny bool, request func(context.Context) error) {
	if !appliedAny {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(VerificationDelay):
		}
		if err := request(ctx); err != nil {
			e.logger.Printf("replication: verification re-request failed: %v", err)
		}
	}()
}
