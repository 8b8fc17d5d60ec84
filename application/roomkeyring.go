package application

// RoomKeyring resolves the symmetric key material for rooms this device
// has joined. Both the LAN handshake (matching an incoming room_code)
// and discovery (matching a beacon's hashed room code) consult it
// without needing to know how rooms are persisted (spec.md sections 3,
// 4.1, 4.2).
type RoomKeyring interface {
	// GroupKey returns the 32-byte group key for roomCode, or ok=false
	// if this device has not joined that room.
	GroupKey(roomCode string) (key [32]byte, ok bool)
	// RoomHashes returns the discovery beacon hash for every room this
	// device has currently joined.
	RoomHashes() []string
	// RoomCodeForHash reverses a beacon hash back to the room code that
	// produced it, or ok=false if no joined room matches.
	RoomCodeForHash(hash string) (roomCode string, ok bool)
}
