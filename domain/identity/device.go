// Package identity holds the process-wide, persistent device identity.
package identity

import "github.com/google/uuid"

// Device is the stable identity of this machine across process restarts.
// Key is 32 random bytes used to wrap at-rest secrets; it never travels
// over the wire.
type Device struct {
	ID   uuid.UUID `json:"device_id"`
	Name string    `json:"device_name"`
	Key  [32]byte  `json:"-"`
}

// New creates a fresh Device with a random UUID. Key must be filled in by
// the caller (normally infrastructure/pairing, which derives it from the
// machine fingerprint).
func New(name string) Device {
	return Device{ID: uuid.New(), Name: name}
}

// NewForTest returns a deterministic Device suitable only for tests that
// need a fixed device_id (e.g. lexicographic tie-break scenarios).
func NewForTest(id uuid.UUID, name string) Device {
	return Device{ID: id, Name: name}
}
