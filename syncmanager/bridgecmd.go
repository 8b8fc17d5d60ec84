package syncmanager

import (
	"context"

	"tiddlysync/application"
	"tiddlysync/domain/message"
	"tiddlysync/domain/room"
	"tiddlysync/domain/wiki"
	"tiddlysync/infrastructure/attachment"
	"tiddlysync/infrastructure/bridge"
	"tiddlysync/infrastructure/wikitransfer"
)

// handleBridgeCommand dispatches one inbound editor command. Unlike
// handleInbound, these originate from our own local editor process, so
// a RecordLocalChange/RecordLocalDeletion clock bump is always correct
// here — there is no remote clock to adopt instead.
func (m *Manager) handleBridgeCommand(ctx context.Context, cmd application.BridgeCommand) {
	switch cmd.Type {
	case bridge.CommandRegisterEditor:
		m.onRegisterEditor(ctx, cmd)
	case bridge.CommandUnregisterEditor:
		m.onUnregisterEditor(cmd)
	case bridge.CommandTiddlerChanged:
		m.onLocalTiddlerChanged(ctx, cmd)
	case bridge.CommandTiddlerDeleted:
		m.onLocalTiddlerDeleted(ctx, cmd)
	case bridge.CommandRequestSync:
		m.onLocalRequestSync(ctx, cmd)
	case bridge.CommandFingerprintsReply:
		m.onLocalFingerprintsReply(cmd)
	case bridge.CommandFullSyncBatchReady:
		m.onLocalFullSyncBatchReady(ctx, cmd)
	case bridge.CommandEditingStarted:
		m.onLocalEditingStarted(ctx, cmd)
	case bridge.CommandEditingStopped:
		m.onLocalEditingStopped(ctx, cmd)
	case bridge.CommandCollabUpdate:
		m.onLocalCollabUpdate(ctx, cmd)
	case bridge.CommandCollabAwareness:
		m.onLocalCollabAwareness(ctx, cmd)
	case bridge.CommandOpenTiddlerWindow, bridge.CommandUpdateFavicon:
		// Pure local multiplexing across editor windows, no sync state
		// involved — forward verbatim to every other connected client.
		_ = m.editorBridge.EmitToEditors(cmd.WikiID, cmd.Type, cmd.Payload)
	default:
		m.logger.Printf("sync: unhandled bridge command %q", cmd.Type)
	}
}

func (m *Manager) onRegisterEditor(ctx context.Context, cmd application.BridgeCommand) {
	var payload bridge.RegisterEditorPayload
	if err := decodeBridgePayload(cmd, &payload); err != nil {
		m.logger.Printf("sync: malformed register_editor: %v", err)
		return
	}

	st, exists := m.wikis[payload.WikiID]
	if !exists {
		st = &wikiState{}
		m.wikis[payload.WikiID] = st
	}
	st.wiki = wiki.Wiki{Name: payload.WikiName, IsFolder: payload.IsFolder, RoomCode: room.Code(payload.RoomCode)}
	st.rootDir = payload.RootDir
	st.attachmentDir = payload.AttachmentDir
	st.editorOpen = true

	if payload.AttachmentDir != "" && st.attachSender == nil {
		st.attachSender = attachment.NewSender(payload.AttachmentDir)
		watcher, err := attachment.NewWatcher(payload.AttachmentDir, m.logger)
		if err != nil {
			m.logger.Printf("sync: start attachment watcher for wiki %s: %v", payload.WikiID, err)
		} else {
			st.watcher = watcher
			st.attachReceiver = attachment.NewReceiver(payload.AttachmentDir, watcher, m.logger)
			go m.pumpWatcher(ctx, payload.WikiID, watcher)
		}
	}
	if payload.RootDir != "" && st.transferSender == nil {
		st.transferSender = wikitransfer.NewSender(payload.RootDir)
	}

	if payload.RoomCode != "" {
		env, err := message.Encode(message.TypeWikiManifest, message.WikiManifest{Wikis: []wiki.Wiki{st.wiki}})
		if err != nil {
			return
		}
		for _, err := range m.router.Broadcast(ctx, payload.RoomCode, env, m.deviceID) {
			m.logger.Printf("sync: announce wiki %s: %v", payload.WikiID, err)
		}
	}
}

func (m *Manager) onUnregisterEditor(cmd application.BridgeCommand) {
	var payload bridge.UnregisterEditorPayload
	if err := decodeBridgePayload(cmd, &payload); err != nil {
		m.logger.Printf("sync: malformed unregister_editor: %v", err)
		return
	}
	st, ok := m.wikis[payload.WikiID]
	if !ok {
		return
	}
	st.editorOpen = false
	if st.watcher != nil {
		_ = st.watcher.Close()
		st.watcher = nil
	}
}

func (m *Manager) onLocalTiddlerChanged(ctx context.Context, cmd application.BridgeCommand) {
	var payload bridge.TiddlerChangedPayload
	if err := decodeBridgePayload(cmd, &payload); err != nil {
		m.logger.Printf("sync: malformed tiddler_changed: %v", err)
		return
	}
	if !m.conflictMgr.ShouldSyncTiddler(payload.Title) {
		return
	}
	clock := m.conflictMgr.RecordLocalChange(cmd.WikiID, payload.Title)
	m.recordModified(cmd.WikiID, payload.Title, payload.Modified)

	env, err := message.Encode(message.TypeTiddlerChanged, message.TiddlerChanged{
		WikiID: cmd.WikiID, Title: payload.Title, JSON: payload.JSON, Clock: clock, Modified: payload.Modified,
	})
	if err != nil {
		m.logger.Printf("sync: encode TiddlerChanged: %v", err)
		return
	}
	m.broadcastToRoom(ctx, cmd.WikiID, env)
}

func (m *Manager) onLocalTiddlerDeleted(ctx context.Context, cmd application.BridgeCommand) {
	var payload bridge.TiddlerDeletedPayload
	if err := decodeBridgePayload(cmd, &payload); err != nil {
		m.logger.Printf("sync: malformed tiddler_deleted: %v", err)
		return
	}
	clock := m.conflictMgr.RecordLocalDeletion(cmd.WikiID, payload.Title)
	m.recordModified(cmd.WikiID, payload.Title, payload.Ts)

	env, err := message.Encode(message.TypeTiddlerDeleted, message.TiddlerDeleted{
		WikiID: cmd.WikiID, Title: payload.Title, Clock: clock, Ts: payload.Ts,
	})
	if err != nil {
		m.logger.Printf("sync: encode TiddlerDeleted: %v", err)
		return
	}
	m.broadcastToRoom(ctx, cmd.WikiID, env)
}

func (m *Manager) onLocalRequestSync(ctx context.Context, cmd application.BridgeCommand) {
	env, err := message.Encode(message.TypeRequestFingerprints, message.RequestFingerprints{WikiID: cmd.WikiID})
	if err != nil {
		return
	}
	m.broadcastToRoom(ctx, cmd.WikiID, env)
}

func (m *Manager) onLocalFingerprintsReply(cmd application.BridgeCommand) {
	var payload bridge.FingerprintsReplyPayload
	if err := decodeBridgePayload(cmd, &payload); err != nil {
		m.logger.Printf("sync: malformed fingerprints_reply: %v", err)
		return
	}
	if err := m.replication.SaveCached(cmd.WikiID, payload.Fingerprints); err != nil {
		m.logger.Printf("sync: save fingerprint cache for wiki %s: %v", cmd.WikiID, err)
		return
	}
	// The editor just supplied its authoritative view, superseding
	// anything merged in while it was closed.
	m.replication.ClearOverrides(cmd.WikiID)
}

func (m *Manager) onLocalFullSyncBatchReady(ctx context.Context, cmd application.BridgeCommand) {
	var payload bridge.FullSyncBatchReadyPayload
	if err := decodeBridgePayload(cmd, &payload); err != nil {
		m.logger.Printf("sync: malformed full_sync_batch_ready: %v", err)
		return
	}
	env, err := message.Encode(message.TypeFullSyncBatch, message.FullSyncBatch{
		WikiID: cmd.WikiID, Tiddlers: payload.Tiddlers, IsLastBatch: payload.IsLastBatch,
	})
	if err != nil {
		return
	}
	if err := m.router.SendToPeerAny(ctx, payload.PeerDeviceID, env); err != nil {
		m.logger.Printf("sync: send FullSyncBatch to %s: %v", payload.PeerDeviceID, err)
	}
}

func (m *Manager) onLocalEditingStarted(ctx context.Context, cmd application.BridgeCommand) {
	var payload bridge.EditingPayload
	if err := decodeBridgePayload(cmd, &payload); err != nil {
		m.logger.Printf("sync: malformed editing_started: %v", err)
		return
	}
	ev := m.presence.StartLocal(cmd.WikiID, payload.Title, m.deviceID)
	env, err := message.Encode(message.TypeEditingStarted, ev)
	if err != nil {
		return
	}
	m.broadcastToRoom(ctx, cmd.WikiID, env)
}

func (m *Manager) onLocalEditingStopped(ctx context.Context, cmd application.BridgeCommand) {
	var payload bridge.EditingPayload
	if err := decodeBridgePayload(cmd, &payload); err != nil {
		m.logger.Printf("sync: malformed editing_stopped: %v", err)
		return
	}
	ev := m.presence.StopLocal(cmd.WikiID, payload.Title, m.deviceID)
	env, err := message.Encode(message.TypeEditingStopped, ev)
	if err != nil {
		return
	}
	m.broadcastToRoom(ctx, cmd.WikiID, env)
}

func (m *Manager) onLocalCollabUpdate(ctx context.Context, cmd application.BridgeCommand) {
	var payload bridge.CollabPayload
	if err := decodeBridgePayload(cmd, &payload); err != nil {
		m.logger.Printf("sync: malformed collab_update: %v", err)
		return
	}
	env, err := message.Encode(message.TypeCollabUpdate, message.CollabUpdate{WikiID: cmd.WikiID, Title: payload.Title, B64: payload.B64})
	if err != nil {
		return
	}
	m.broadcastToRoom(ctx, cmd.WikiID, env)
}

func (m *Manager) onLocalCollabAwareness(ctx context.Context, cmd application.BridgeCommand) {
	var payload bridge.CollabPayload
	if err := decodeBridgePayload(cmd, &payload); err != nil {
		m.logger.Printf("sync: malformed collab_awareness: %v", err)
		return
	}
	env, err := message.Encode(message.TypeCollabAwareness, message.CollabAwareness{WikiID: cmd.WikiID, Title: payload.Title, B64: payload.B64})
	if err != nil {
		return
	}
	m.broadcastToRoom(ctx, cmd.WikiID, env)
}

// broadcastToRoom fans env out to every peer sharing wikiID's room,
// logging (not retrying) individual delivery failures: a dropped relay
// send to one peer shouldn't block the other N-1 recipients, and the
// next fingerprint exchange recovers anything actually lost.
func (m *Manager) broadcastToRoom(ctx context.Context, wikiID string, env message.Envelope) {
	code := m.roomOf(wikiID)
	if code == "" {
		return
	}
	for _, err := range m.router.Broadcast(ctx, code.String(), env, m.deviceID) {
		m.logger.Printf("sync: broadcast %s for wiki %s: %v", env.Type, wikiID, err)
	}
}

func decodeBridgePayload(cmd application.BridgeCommand, dst any) error {
	return message.Decode(message.Envelope{Type: message.Type(cmd.Type), Payload: cmd.Payload}, dst)
}
