package bridge

import (
	"encoding/json"

	"tiddlysync/domain/message"
	"tiddlysync/domain/wiki"
)

// Command type tags exchanged over both IPCServer's NDJSON protocol and
// AndroidHub's HTTP poll, per spec.md section 6: "register/unregister,
// tiddler changed/deleted, open tiddler window, update favicon, request
// sync, LAN sync fingerprint/batch/broadcast, collab editing".
const (
	CommandRegisterEditor     = "register_editor"
	CommandUnregisterEditor   = "unregister_editor"
	CommandTiddlerChanged     = "tiddler_changed"
	CommandTiddlerDeleted     = "tiddler_deleted"
	CommandOpenTiddlerWindow  = "open_tiddler_window"
	CommandUpdateFavicon      = "update_favicon"
	CommandRequestSync        = "request_sync"
	CommandFingerprintsReply  = "fingerprints_reply"
	CommandBuildSyncBatch     = "build_sync_batch"
	CommandFullSyncBatchReady = "full_sync_batch_ready"
	CommandEditingStarted     = "editing_started"
	CommandEditingStopped     = "editing_stopped"
	CommandCollabUpdate       = "collab_update"
	CommandCollabAwareness    = "collab_awareness"
)

// RegisterEditorPayload announces which wiki an editor process owns and
// where its files live on disk, so the core can root attachment and
// wiki-transfer I/O for that wiki.
type RegisterEditorPayload struct {
	WikiID        string `json:"wiki_id"`
	WikiName      string `json:"wiki_name"`
	IsFolder      bool   `json:"is_folder"`
	RoomCode      string `json:"room_code,omitempty"`
	RootDir       string `json:"root_dir"`
	AttachmentDir string `json:"attachment_dir"`
}

// UnregisterEditorPayload names the wiki whose editor window closed.
type UnregisterEditorPayload struct {
	WikiID string `json:"wiki_id"`
}

// TiddlerChangedPayload is the editor reporting one of its own edits.
type TiddlerChangedPayload struct {
	Title    string          `json:"title"`
	JSON     json.RawMessage `json:"json"`
	Modified string          `json:"ts"`
}

// TiddlerDeletedPayload is the editor reporting one of its own deletions.
type TiddlerDeletedPayload struct {
	Title string `json:"title"`
	Ts    string `json:"ts"`
}

// FingerprintsReplyPayload is the editor supplying its authoritative
// fingerprint list, e.g. at boot, superseding whatever the core had
// cached from before the editor was running.
type FingerprintsReplyPayload struct {
	Fingerprints []wiki.Fingerprint `json:"fingerprints"`
}

// BuildSyncBatchPayload asks the editor to assemble a FullSyncBatch for
// the given titles (the core only holds fingerprints, not tiddler
// bodies, so it cannot build this itself).
type BuildSyncBatchPayload struct {
	PeerDeviceID string   `json:"peer_device_id"`
	Titles       []string `json:"titles"`
}

// FullSyncBatchReadyPayload is the editor's answer to BuildSyncBatchPayload.
type FullSyncBatchReadyPayload struct {
	PeerDeviceID string                   `json:"peer_device_id"`
	Tiddlers     []message.TiddlerChanged `json:"tiddlers"`
	IsLastBatch  bool                     `json:"is_last_batch"`
}

// EditingPayload names the tiddler a local EditingStarted/EditingStopped
// command refers to.
type EditingPayload struct {
	Title string `json:"title"`
}

// CollabPayload carries an opaque CRDT update or awareness frame the
// editor generated locally, to be relayed to peers.
type CollabPayload struct {
	Title string `json:"title"`
	B64   string `json:"b64"`
}
