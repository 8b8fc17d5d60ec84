package pairing

import (
	"fmt"
	"sync"

	"tiddlysync/application"
	"tiddlysync/infrastructure/cryptography/roomkeys"
)

// Keyring implements application.RoomKeyring over the rooms currently
// persisted in a Store, decrypting each room's password once and caching
// its derived group key and beacon hash in memory so the hot paths in
// the LAN handshake and discovery listener never touch disk or redo HKDF
// (spec.md sections 3, 4.1, 4.2).
type Keyring struct {
	store *Store

	mu         sync.RWMutex
	byRoomCode map[string][32]byte
	byHash     map[string]string // beacon hash -> room code
}

var _ application.RoomKeyring = (*Keyring)(nil)

// NewKeyring loads every room currently in store and derives its key
// material up front. Call Reload after SaveRoom/DeleteRoom change
// membership.
func NewKeyring(store *Store) (*Keyring, error) {
	k := &Keyring{store: store}
	if err := k.Reload(); err != nil {
		return nil, err
	}
	return k, nil
}

// Reload re-derives key material for every room currently in the store,
// replacing the cache atomically.
func (k *Keyring) Reload() error {
	rooms, err := k.store.LoadRooms()
	if err != nil {
		return fmt.Errorf("pairing: load rooms: %w", err)
	}

	byRoomCode := make(map[string][32]byte, len(rooms))
	byHash := make(map[string]string, len(rooms))
	for _, r := range rooms {
		password, err := k.store.DecryptSecret(r.EncryptedPassword)
		if err != nil {
			return fmt.Errorf("pairing: decrypt password for room %q: %w", r.Code, err)
		}
		groupKey, err := roomkeys.DeriveGroupKey(password, r.Code)
		if err != nil {
			return fmt.Errorf("pairing: derive group key for room %q: %w", r.Code, err)
		}
		byRoomCode[r.Code] = groupKey
		byHash[roomkeys.HashRoomCode(r.Code)] = r.Code
	}

	k.mu.Lock()
	k.byRoomCode = byRoomCode
	k.byHash = byHash
	k.mu.Unlock()
	return nil
}

func (k *Keyring) GroupKey(roomCode string) (key [32]byte, ok bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok = k.byRoomCode[roomCode]
	return key, ok
}

func (k *Keyring) RoomHashes() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.byHash))
	for hash := range k.byHash {
		out = append(out, hash)
	}
	return out
}

func (k *Keyring) RoomCodeForHash(hash string) (roomCode string, ok bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	roomCode, ok = k.byHash[hash]
	return roomCode, ok
}
