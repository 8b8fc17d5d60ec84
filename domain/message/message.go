// Package message defines the application-level payload types exchanged
// between peers (spec.md section 4.1 table) as a tagged sum type: an
// Envelope carries a Type discriminator plus a raw JSON body, and callers
// switch exhaustively on Type the way the teacher's IPC commands are
// tagged {"type": "..."} (tungo/infrastructure/PAL/configuration and the
// original Rust ipc.rs command enum, see DESIGN.md).
package message

import (
	"encoding/json"
	"fmt"

	"tiddlysync/domain/vectorclock"
	"tiddlysync/domain/wiki"
)

// Type is the wire discriminator for a payload.
type Type string

const (
	TypeWikiManifest        Type = "WikiManifest"
	TypeRequestFingerprints Type = "RequestFingerprints"
	TypeTiddlerFingerprints Type = "TiddlerFingerprints"
	TypeTiddlerChanged      Type = "TiddlerChanged"
	TypeTiddlerDeleted      Type = "TiddlerDeleted"
	TypeFullSyncBatch       Type = "FullSyncBatch"
	TypeEditingStarted      Type = "EditingStarted"
	TypeEditingStopped      Type = "EditingStopped"
	TypeCollabUpdate        Type = "CollabUpdate"
	TypeCollabAwareness     Type = "CollabAwareness"
	TypeAttachmentChanged   Type = "AttachmentChanged"
	TypeAttachmentChunk     Type = "AttachmentChunk"
	TypeAttachmentDeleted   Type = "AttachmentDeleted"
	TypeAttachmentManifest  Type = "AttachmentManifest"
	TypeRequestAttachments  Type = "RequestAttachments"
	TypeRequestWikiFile     Type = "RequestWikiFile"
	TypeWikiFileChunk       Type = "WikiFileChunk"
	TypeWikiFileComplete    Type = "WikiFileComplete"
	TypeWikiInfoChanged     Type = "WikiInfoChanged"
	TypeWikiInfoRequest     Type = "WikiInfoRequest"
	TypePluginManifest      Type = "PluginManifest"
	TypeRequestPluginFiles  Type = "RequestPluginFiles"
	TypePluginFileChunk     Type = "PluginFileChunk"
	TypePluginFilesComplete Type = "PluginFilesComplete"
)

// Envelope is the JSON form placed on the wire after decryption (or
// before encryption, on the send path).
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode marshals a typed payload into an Envelope ready for encryption.
func Encode(t Type, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("message: encode %s: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// Decode unmarshals env.Payload into dst. Callers switch on env.Type
// first to pick the right dst type.
func Decode(env Envelope, dst any) error {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("message: decode %s: %w", env.Type, err)
	}
	return nil
}

// WikiManifest announces which wikis the sender owns in a room.
type WikiManifest struct {
	Wikis []wiki.Wiki `json:"wikis"`
}

// RequestFingerprints asks a peer what it has for a wiki.
type RequestFingerprints struct {
	WikiID string `json:"wiki_id"`
}

// TiddlerFingerprints is a compact listing used to diff two copies of a
// wiki. IsReply is true for the response leg of an exchange; a reply
// never triggers another reply (see infrastructure/replication).
type TiddlerFingerprints struct {
	WikiID       string             `json:"wiki_id"`
	Fingerprints []wiki.Fingerprint `json:"fingerprints"`
	IsReply      bool               `json:"is_reply"`
}

// TiddlerChanged carries a single tiddler update stamped with the
// sender's vector clock at send time.
type TiddlerChanged struct {
	WikiID   string            `json:"wiki_id"`
	Title    string            `json:"title"`
	JSON     json.RawMessage   `json:"json"`
	Clock    vectorclock.Clock `json:"clock"`
	Modified string            `json:"ts"`
}

// TiddlerDeleted propagates a tombstone.
type TiddlerDeleted struct {
	WikiID string            `json:"wiki_id"`
	Title  string            `json:"title"`
	Clock  vectorclock.Clock `json:"clock"`
	Ts     string            `json:"ts"`
}

// FullSyncBatch bulk-dumps tiddlers, each individually clock-stamped.
// IsLastBatch is the single ordering barrier the replication engine uses
// to schedule its 5s post-sync verification pass.
type FullSyncBatch struct {
	WikiID      string           `json:"wiki_id"`
	Tiddlers    []TiddlerChanged `json:"tiddlers"`
	IsLastBatch bool             `json:"is_last_batch"`
}

// EditingStarted/EditingStopped announce collaborative-editing presence.
type EditingStarted struct {
	WikiID   string `json:"wiki_id"`
	Title    string `json:"title"`
	DeviceID string `json:"device_id"`
}

type EditingStopped struct {
	WikiID   string `json:"wiki_id"`
	Title    string `json:"title"`
	DeviceID string `json:"device_id"`
}

// CollabUpdate/CollabAwareness carry opaque base64 CRDT payloads pushed
// through the low-latency loopback overlay.
type CollabUpdate struct {
	WikiID string `json:"wiki_id"`
	Title  string `json:"title"`
	B64    string `json:"b64"`
}

type CollabAwareness struct {
	WikiID string `json:"wiki_id"`
	Title  string `json:"title"`
	B64    string `json:"b64"`
}

// AttachmentChanged is the header preceding a sequence of AttachmentChunk
// messages.
type AttachmentChanged struct {
	WikiID     string `json:"wiki_id"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	SHA256     string `json:"sha256"`
	ChunkCount int    `json:"chunk_count"`
}

type AttachmentChunk struct {
	WikiID   string `json:"wiki_id"`
	Filename string `json:"filename"`
	Idx      int    `json:"idx"`
	B64      string `json:"b64"`
}

type AttachmentDeleted struct {
	WikiID   string `json:"wiki_id"`
	Filename string `json:"filename"`
}

// AttachmentManifest bulk-lists blobs so each side can request what it lacks.
type AttachmentManifest struct {
	WikiID string                  `json:"wiki_id"`
	Files  []AttachmentManifestRow `json:"files"`
}

type AttachmentManifestRow struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

type RequestAttachments struct {
	WikiID string   `json:"wiki_id"`
	Files  []string `json:"files"`
}

// RequestWikiFile bootstraps a full wiki transfer; HaveFiles lets the
// sender skip files the receiver already holds.
type RequestWikiFile struct {
	WikiID    string         `json:"wiki_id"`
	HaveFiles []HaveFileEntry `json:"have_files"`
}

type HaveFileEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}

// WikiFileChunk carries one chunk of a file during bootstrap transfer.
// ChunkCount is deliberately absent: the receiver detects a file boundary
// by filename change, per spec.md section 4.6.
type WikiFileChunk struct {
	WikiID   string `json:"wiki_id"`
	Filename string `json:"filename"`
	Idx      int    `json:"idx"`
	B64      string `json:"b64"`
}

type WikiFileComplete struct {
	WikiID string `json:"wiki_id"`
}

// WikiInfoChanged/WikiInfoRequest carry folder-wiki metadata (plugins,
// themes) separate from tiddler content.
type WikiInfoChanged struct {
	WikiID string          `json:"wiki_id"`
	Info   json.RawMessage `json:"info"`
}

type WikiInfoRequest struct {
	WikiID string `json:"wiki_id"`
}

// PluginManifest/RequestPluginFiles/PluginFileChunk/PluginFilesComplete
// transfer plugin content the same way wiki files are bootstrapped.
type PluginManifest struct {
	WikiID  string                  `json:"wiki_id"`
	Plugins []AttachmentManifestRow `json:"plugins"`
}

type RequestPluginFiles struct {
	WikiID string   `json:"wiki_id"`
	Names  []string `json:"names"`
}

type PluginFileChunk struct {
	WikiID   string `json:"wiki_id"`
	Filename string `json:"filename"`
	Idx      int    `json:"idx"`
	B64      string `json:"b64"`
}

type PluginFilesComplete struct {
	WikiID string `json:"wiki_id"`
}
