package application

import (
	"tiddlysync/domain/tombstone"
	"tiddlysync/domain/vectorclock"
	"tiddlysync/domain/wiki"
)

// FingerprintStore persists the cached fingerprints used to serve stale
// diffs before the editor has booted (spec.md section 4.4).
type FingerprintStore interface {
	Load(wikiID string) ([]wiki.Fingerprint, error)
	Save(wikiID string, fingerprints []wiki.Fingerprint) error
}

// ClockStore persists per-(wiki, title) vector clocks and tombstones,
// with dirty-flag coalescing flushed on a timer (spec.md section 4.3).
type ClockStore interface {
	Clock(wikiID, title string) vectorclock.Clock
	SetClock(wikiID, title string, clock vectorclock.Clock)
	Tombstones(wikiID string) []tombstone.Tombstone
	PutTombstone(t tombstone.Tombstone)
	// Flush persists any state marked dirty since the last Flush.
	Flush() error
}

// ConfigStore persists device identity, room credentials, and the relay
// device key wrapper described in spec.md section 6.
type ConfigStore interface {
	LoadOrCreateDeviceIdentity() (id, name string, err error)
	LoadRooms() ([]RoomRecord, error)
	SaveRoom(RoomRecord) error
	DeleteRoom(code string) error
}

// RoomRecord is a room definition as persisted in relay_sync_config.json:
// the password and OAuth token are stored ChaCha20-Poly1305-encrypted.
type RoomRecord struct {
	Code                string
	DisplayName         string
	AutoConnect         bool
	EncryptedPassword   string
	EncryptedOAuthToken string
}
