package syncmanager

import (
	"context"
	"time"

	"tiddlysync/application"
	"tiddlysync/domain/message"
	"tiddlysync/domain/room"
	"tiddlysync/domain/wiki"
	"tiddlysync/infrastructure/bridge"
	"tiddlysync/infrastructure/replication"
)

// Event type tags used on the editor side of application.Bridge.
// EmitToEditors; most mirror domain/message.Type verbatim since the core
// is largely a transparent relay once a message has been classified.
const (
	bridgeEventTiddlerChanged    = "tiddler_changed"
	bridgeEventTiddlerDeleted    = "tiddler_deleted"
	bridgeEventFullSyncBatch     = "full_sync_batch"
	bridgeEventEditingStarted    = "editing_started"
	bridgeEventEditingStopped    = "editing_stopped"
	bridgeEventWikiInfoChanged   = "wiki_info_changed"
	bridgeEventWikiInfoRequest   = "wiki_info_request"
	bridgeEventPluginManifest    = "plugin_manifest"
	bridgeEventRequestPlugins    = "request_plugin_files"
	bridgeEventPluginFileChunk   = "plugin_file_chunk"
	bridgeEventPluginFilesDone   = "plugin_files_complete"
	bridgeEventWikiBootstrapped  = "wiki_bootstrapped"
)

// handleInbound dispatches one decoded envelope by type. This is the
// single place that decides, per spec.md section 4.4's five-step flow
// and section 4.7's presence rules, how a wire message changes local
// state and what (if anything) it triggers in reply.
func (m *Manager) handleInbound(ctx context.Context, link application.PeerLink, env message.Envelope) {
	peerID := ""
	peerRoom := room.Code("")
	if link != nil {
		peerID = link.DeviceID()
		peerRoom = room.Code(link.RoomCode())
	}

	switch env.Type {
	case message.TypeWikiManifest:
		m.onWikiManifest(ctx, peerID, env)
	case message.TypeRequestFingerprints:
		m.onRequestFingerprints(ctx, peerID, env)
	case message.TypeTiddlerFingerprints:
		m.onTiddlerFingerprints(ctx, peerID, env)
	case message.TypeTiddlerChanged:
		m.onTiddlerChanged(peerID, peerRoom, env)
	case message.TypeTiddlerDeleted:
		m.onTiddlerDeleted(peerID, peerRoom, env)
	case message.TypeFullSyncBatch:
		m.onFullSyncBatch(ctx, peerID, peerRoom, env)
	case message.TypeEditingStarted:
		m.onEditingStarted(peerID, env)
	case message.TypeEditingStopped:
		m.onEditingStopped(peerID, env)
	case message.TypeCollabUpdate:
		m.onCollabUpdate(ctx, env)
	case message.TypeCollabAwareness:
		m.onCollabAwareness(ctx, env)
	case message.TypeAttachmentChanged:
		m.onAttachmentChanged(env)
	case message.TypeAttachmentChunk:
		m.onAttachmentChunk(env)
	case message.TypeAttachmentDeleted:
		m.onAttachmentDeleted(env)
	case message.TypeAttachmentManifest:
		m.onAttachmentManifest(ctx, peerID, env)
	case message.TypeRequestAttachments:
		m.onRequestAttachments(ctx, peerID, env)
	case message.TypeRequestWikiFile:
		m.onRequestWikiFile(ctx, peerID, env)
	case message.TypeWikiFileChunk:
		m.onWikiFileChunk(env)
	case message.TypeWikiFileComplete:
		m.onWikiFileComplete(env)
	case message.TypeWikiInfoChanged:
		m.passthroughToEditor(env, bridgeEventWikiInfoChanged, &message.WikiInfoChanged{})
	case message.TypeWikiInfoRequest:
		m.passthroughToEditor(env, bridgeEventWikiInfoRequest, &message.WikiInfoRequest{})
	case message.TypePluginManifest:
		m.passthroughToEditor(env, bridgeEventPluginManifest, &message.PluginManifest{})
	case message.TypeRequestPluginFiles:
		m.passthroughToEditor(env, bridgeEventRequestPlugins, &message.RequestPluginFiles{})
	case message.TypePluginFileChunk:
		m.passthroughToEditor(env, bridgeEventPluginFileChunk, &message.PluginFileChunk{})
	case message.TypePluginFilesComplete:
		m.passthroughToEditor(env, bridgeEventPluginFilesDone, &message.PluginFilesComplete{})
	default:
		m.logger.Printf("sync: unhandled message type %q from %s", env.Type, peerID)
	}
}

// passthroughToEditor decodes env's payload into dst purely to validate
// it, then forwards it to the editor untouched. Plugin-file transfer and
// folder-wiki metadata live entirely inside the editor's own tree — the
// core has no replication logic of its own for them, the same "library
// owns the wiki files" boundary attachments and wiki-transfer work
// around, just without a dedicated chunk/hash pipeline since these are
// lower-volume, editor-internal concerns.
func (m *Manager) passthroughToEditor(env message.Envelope, eventType string, dst any) {
	if err := message.Decode(env, dst); err != nil {
		m.logger.Printf("sync: malformed %s: %v", env.Type, err)
		return
	}
	wikiID := wikiIDOf(dst)
	if err := m.editorBridge.EmitToEditors(wikiID, eventType, dst); err != nil {
		m.logger.Printf("sync: forward %s to editor: %v", env.Type, err)
	}
}

func wikiIDOf(v any) string {
	switch p := v.(type) {
	case *message.WikiInfoChanged:
		return p.WikiID
	case *message.WikiInfoRequest:
		return p.WikiID
	case *message.PluginManifest:
		return p.WikiID
	case *message.RequestPluginFiles:
		return p.WikiID
	case *message.PluginFileChunk:
		return p.WikiID
	case *message.PluginFilesComplete:
		return p.WikiID
	default:
		return ""
	}
}

func (m *Manager) onWikiManifest(ctx context.Context, peerID string, env message.Envelope) {
	manifest, err := decode[message.WikiManifest](env)
	if err != nil {
		m.logger.Printf("sync: malformed WikiManifest from %s: %v", peerID, err)
		return
	}
	for _, w := range manifest.Wikis {
		if _, ours := m.wikis[w.ID.String()]; !ours {
			continue // a wiki we don't also have nothing to diff against
		}
		m.sendCachedFingerprints(ctx, peerID, w.ID.String(), false)
	}
}

// sendCachedFingerprints is step 2 of spec.md section 4.4's flow: serve
// our cached fingerprints (possibly stale, from before any editor
// booted) so a peer can start diffing immediately, suppressed within
// replication.DedupWindow to avoid redundant re-sends from overlapping
// triggers (manifest arrival, an explicit request, a reciprocal reply).
func (m *Manager) sendCachedFingerprints(ctx context.Context, peerID, wikiID string, isReply bool) {
	if !m.replication.ShouldSendFingerprints(peerID, wikiID) {
		return
	}
	cached, err := m.replication.LoadCached(wikiID)
	if err != nil {
		m.logger.Printf("sync: load cached fingerprints for wiki %s: %v", wikiID, err)
		return
	}
	cached = m.replication.FilterOverridden(wikiID, cached)

	env, err := message.Encode(message.TypeTiddlerFingerprints, message.TiddlerFingerprints{
		WikiID:       wikiID,
		Fingerprints: cached,
		IsReply:      isReply,
	})
	if err != nil {
		m.logger.Printf("sync: encode TiddlerFingerprints: %v", err)
		return
	}
	if err := m.router.SendToPeerAny(ctx, peerID, env); err != nil {
		m.logger.Printf("sync: send fingerprints to %s: %v", peerID, err)
	}
}

func (m *Manager) onRequestFingerprints(ctx context.Context, peerID string, env message.Envelope) {
	req, err := decode[message.RequestFingerprints](env)
	if err != nil {
		m.logger.Printf("sync: malformed RequestFingerprints from %s: %v", peerID, err)
		return
	}
	// A direct request always gets a reply, regardless of the dedup
	// window — it's the thing the window exists to complement, not
	// compete with.
	m.sendCachedFingerprints(ctx, peerID, req.WikiID, true)
}

func (m *Manager) onTiddlerFingerprints(ctx context.Context, peerID string, env message.Envelope) {
	fps, err := decode[message.TiddlerFingerprints](env)
	if err != nil {
		m.logger.Printf("sync: malformed TiddlerFingerprints from %s: %v", peerID, err)
		return
	}

	// Step 3: a reply never triggers another reply.
	if !fps.IsReply {
		m.sendCachedFingerprints(ctx, peerID, fps.WikiID, true)
	}

	st, ours := m.wikis[fps.WikiID]
	if !ours {
		return
	}

	oursCached, err := m.replication.LoadCached(fps.WikiID)
	if err != nil {
		m.logger.Printf("sync: load cached fingerprints for wiki %s: %v", fps.WikiID, err)
		return
	}
	isTombstoned := func(title string) bool {
		for _, t := range m.conflictMgr.Tombstones(fps.WikiID) {
			if t.Title == title {
				return true
			}
		}
		return false
	}
	needed := replication.Diff(oursCached, fps.Fingerprints, isTombstoned)
	if len(needed) == 0 {
		return
	}

	if !st.editorOpen {
		// No editor to ask for bodies; merge what we learned into our
		// own cache as override-only metadata so a *third* peer's diff
		// against us reflects it, without ever claiming we hold the real
		// file (spec.md section 4.4's cache-merge override rule).
		m.mergeOverrideFingerprints(fps.WikiID, fps.Fingerprints, needed)
		return
	}

	// We hold fingerprints/clocks, not tiddler bodies — the editor owns
	// the wiki file, so building the batch means round-tripping through
	// the bridge rather than assembling it here.
	payload := bridge.BuildSyncBatchPayload{PeerDeviceID: peerID, Titles: needed}
	if err := m.editorBridge.EmitToEditors(fps.WikiID, bridge.CommandBuildSyncBatch, payload); err != nil {
		m.logger.Printf("sync: ask editor to build batch for wiki %s: %v", fps.WikiID, err)
	}
}

// mergeOverrideFingerprints records peer-reported fingerprints for
// titles we're missing into our own cache, marking each as an override
// so FilterOverridden strips it back out of what we claim to hold when
// we're asked in turn.
func (m *Manager) mergeOverrideFingerprints(wikiID string, theirs []wiki.Fingerprint, neededTitles []string) {
	needed := make(map[string]bool, len(neededTitles))
	for _, t := range neededTitles {
		needed[t] = true
	}
	byTitle := make(map[string]wiki.Fingerprint, len(theirs))
	for _, fp := range theirs {
		byTitle[fp.Title] = fp
	}

	cached, err := m.replication.LoadCached(wikiID)
	if err != nil {
		return
	}
	index := make(map[string]int, len(cached))
	for i, fp := range cached {
		index[fp.Title] = i
	}
	for title := range needed {
		fp, ok := byTitle[title]
		if !ok {
			continue
		}
		if i, exists := index[title]; exists {
			cached[i] = fp
		} else {
			cached = append(cached, fp)
		}
		m.replication.MarkOverride(wikiID, title)
	}
	if err := m.replication.SaveCached(wikiID, cached); err != nil {
		m.logger.Printf("sync: save merged fingerprint cache for wiki %s: %v", wikiID, err)
	}
}

// acceptFromRoom enforces spec.md section 9's two inbound gates before
// any wiki-scoped message is applied: a wiki_id we haven't registered is
// dropped silently (we simply have nothing to diff against), and a
// wiki_id we have but assigned to a different room than the one the
// sending link authenticated into is dropped with a one-line log and no
// reply, so a peer in the wrong room can't use us as an oracle for
// which wikis exist in rooms it isn't a member of.
func (m *Manager) acceptFromRoom(wikiID, peerID string, peerRoom room.Code) bool {
	if _, ours := m.wikis[wikiID]; !ours {
		return false
	}
	if code := m.roomOf(wikiID); code != "" && code != peerRoom {
		m.logger.Printf("security: dropping message for wiki %s from %s: peer room %q does not match wiki room %q", wikiID, peerID, peerRoom, code)
		return false
	}
	return true
}

func (m *Manager) onTiddlerChanged(peerID string, peerRoom room.Code, env message.Envelope) {
	tc, err := decode[message.TiddlerChanged](env)
	if err != nil {
		m.logger.Printf("sync: malformed TiddlerChanged from %s: %v", peerID, err)
		return
	}
	if !m.acceptFromRoom(tc.WikiID, peerID, peerRoom) {
		return
	}
	remoteModified, _ := time.Parse(time.RFC3339Nano, tc.Modified)
	if !m.conflictMgr.ShouldApply(tc.WikiID, tc.Title, tc.Clock, remoteModified, m.modified[wikiTitleKey{WikiID: tc.WikiID, Title: tc.Title}], peerID) {
		return
	}
	m.conflictMgr.AcceptRemoteClock(tc.WikiID, tc.Title, tc.Clock)
	m.recordModified(tc.WikiID, tc.Title, tc.Modified)
	if err := m.editorBridge.EmitToEditors(tc.WikiID, bridgeEventTiddlerChanged, tc); err != nil {
		m.logger.Printf("sync: forward TiddlerChanged to editor: %v", err)
	}
}

func (m *Manager) onTiddlerDeleted(peerID string, peerRoom room.Code, env message.Envelope) {
	td, err := decode[message.TiddlerDeleted](env)
	if err != nil {
		m.logger.Printf("sync: malformed TiddlerDeleted from %s: %v", peerID, err)
		return
	}
	if !m.acceptFromRoom(td.WikiID, peerID, peerRoom) {
		return
	}
	remoteModified, _ := time.Parse(time.RFC3339Nano, td.Ts)
	if !m.conflictMgr.ShouldApply(td.WikiID, td.Title, td.Clock, remoteModified, m.modified[wikiTitleKey{WikiID: td.WikiID, Title: td.Title}], peerID) {
		return
	}
	m.conflictMgr.AcceptRemoteDeletion(td.WikiID, td.Title, td.Clock)
	m.recordModified(td.WikiID, td.Title, td.Ts)
	if err := m.editorBridge.EmitToEditors(td.WikiID, bridgeEventTiddlerDeleted, td); err != nil {
		m.logger.Printf("sync: forward TiddlerDeleted to editor: %v", err)
	}
}

func (m *Manager) onFullSyncBatch(ctx context.Context, peerID string, peerRoom room.Code, env message.Envelope) {
	batch, err := decode[message.FullSyncBatch](env)
	if err != nil {
		m.logger.Printf("sync: malformed FullSyncBatch from %s: %v", peerID, err)
		return
	}
	if !m.acceptFromRoom(batch.WikiID, peerID, peerRoom) {
		return
	}
	if !m.replication.ShouldForwardToEditor(peerID, batch.WikiID) {
		return
	}

	result := replication.ApplyBatch(m.conflictMgr, batch.WikiID, batch, m.localModified(batch.WikiID), peerID)
	for _, t := range result.Applied {
		m.conflictMgr.AcceptRemoteClock(batch.WikiID, t.Title, t.Clock)
		m.recordModified(batch.WikiID, t.Title, t.Modified)
	}
	if result.AppliedAny {
		if err := m.editorBridge.EmitToEditors(batch.WikiID, bridgeEventFullSyncBatch, result.Applied); err != nil {
			m.logger.Printf("sync: forward FullSyncBatch to editor: %v", err)
		}
	}

	if batch.IsLastBatch {
		m.replication.ScheduleVerification(ctx, result.AppliedAny, func(reqCtx context.Context) error {
			reqEnv, err := message.Encode(message.TypeRequestFingerprints, message.RequestFingerprints{WikiID: batch.WikiID})
			if err != nil {
				return err
			}
			return m.router.SendToPeerAny(reqCtx, peerID, reqEnv)
		})
	}
}

func (m *Manager) onEditingStarted(peerID string, env message.Envelope) {
	ev, err := decode[message.EditingStarted](env)
	if err != nil {
		m.logger.Printf("sync: malformed EditingStarted from %s: %v", peerID, err)
		return
	}
	m.presence.OnPeerStarted(peerID, ev)
	if err := m.editorBridge.EmitToEditors(ev.WikiID, bridgeEventEditingStarted, ev); err != nil {
		m.logger.Printf("sync: forward EditingStarted to editor: %v", err)
	}
}

func (m *Manager) onEditingStopped(peerID string, env message.Envelope) {
	ev, err := decode[message.EditingStopped](env)
	if err != nil {
		m.logger.Printf("sync: malformed EditingStopped from %s: %v", peerID, err)
		return
	}
	m.presence.OnPeerStopped(peerID, ev)
	if err := m.editorBridge.EmitToEditors(ev.WikiID, bridgeEventEditingStopped, ev); err != nil {
		m.logger.Printf("sync: forward EditingStopped to editor: %v", err)
	}
}

func (m *Manager) onCollabUpdate(ctx context.Context, env message.Envelope) {
	update, err := decode[message.CollabUpdate](env)
	if err != nil {
		m.logger.Printf("sync: malformed CollabUpdate: %v", err)
		return
	}
	if err := m.hub.BroadcastUpdate(ctx, update); err != nil {
		m.logger.Printf("sync: push CollabUpdate to local editors: %v", err)
	}
}

func (m *Manager) onCollabAwareness(ctx context.Context, env message.Envelope) {
	awareness, err := decode[message.CollabAwareness](env)
	if err != nil {
		m.logger.Printf("sync: malformed CollabAwareness: %v", err)
		return
	}
	if err := m.hub.BroadcastAwareness(ctx, awareness); err != nil {
		m.logger.Printf("sync: push CollabAwareness to local editors: %v", err)
	}
}
