package pairing

import (
	"testing"

	"tiddlysync/application"
	"tiddlysync/infrastructure/cryptography/roomkeys"
)

func TestKeyring_ResolvesJoinedRoomAndHash(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	encrypted, err := store.EncryptSecret("hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if err := store.SaveRoom(application.RoomRecord{Code: "ABCD-1234", DisplayName: "Home", EncryptedPassword: encrypted}); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}

	keyring, err := NewKeyring(store)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}

	want, err := roomkeys.DeriveGroupKey("hunter2", "ABCD-1234")
	if err != nil {
		t.Fatalf("DeriveGroupKey: %v", err)
	}
	got, ok := keyring.GroupKey("ABCD-1234")
	if !ok {
		t.Fatal("GroupKey: room not found")
	}
	if got != want {
		t.Fatalf("GroupKey mismatch")
	}

	if _, ok := keyring.GroupKey("NOPE-0000"); ok {
		t.Fatal("GroupKey: expected unjoined room to be rejected")
	}

	hash := roomkeys.HashRoomCode("ABCD-1234")
	hashes := keyring.RoomHashes()
	found := false
	for _, h := range hashes {
		if h == hash {
			found = true
		}
	}
	if !found {
		t.Fatalf("RoomHashes() = %v, want to contain %q", hashes, hash)
	}

	code, ok := keyring.RoomCodeForHash(hash)
	if !ok || code != "ABCD-1234" {
		t.Fatalf("RoomCodeForHash(%q) = (%q, %v), want (\"ABCD-1234\", true)", hash, code, ok)
	}
}

func TestKeyring_ReloadPicksUpNewRoom(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	keyring, err := NewKeyring(store)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	if _, ok := keyring.GroupKey("LATER-001"); ok {
		t.Fatal("expected no rooms yet")
	}

	encrypted, err := store.EncryptSecret("swordfish")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if err := store.SaveRoom(application.RoomRecord{Code: "LATER-001", EncryptedPassword: encrypted}); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}
	if err := keyring.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := keyring.GroupKey("LATER-001"); !ok {
		t.Fatal("expected Reload to pick up newly saved room")
	}
}
