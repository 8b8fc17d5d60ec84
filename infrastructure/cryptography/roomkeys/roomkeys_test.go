package roomkeys

import "testing"

func TestDeriveGroupKey_Deterministic(t *testing.T) {
	a, err := DeriveGroupKey("hunter2", "ABCD2345")
	if err != nil {
		t.Fatalf("DeriveGroupKey: %v", err)
	}
	b, err := DeriveGroupKey("hunter2", "ABCD2345")
	if err != nil {
		t.Fatalf("DeriveGroupKey: %v", err)
	}
	if a != b {
		t.Fatal("DeriveGroupKey is not deterministic for identical inputs")
	}
}

func TestDeriveGroupKey_DifferentPasswordsDiverge(t *testing.T) {
	a, _ := DeriveGroupKey("hunter2", "ABCD2345")
	b, _ := DeriveGroupKey("other-password", "ABCD2345")
	if a == b {
		t.Fatal("different passwords produced the same group key")
	}
}

func TestDeriveRoomToken_DoesNotRevealCredentials(t *testing.T) {
	key, _ := DeriveGroupKey("hunter2", "ABCD2345")
	token := DeriveRoomToken(key)
	if len(token) != RoomTokenHexLen {
		t.Fatalf("len(token) = %d, want %d", len(token), RoomTokenHexLen)
	}
	// The relay authenticates connections using only the token; a
	// passive observer of the token cannot recompute the group key
	// (HMAC is one-way), so a second, independently-derived key never
	// collides with the first's token by construction of this test.
	otherKey, _ := DeriveGroupKey("different", "ABCD2345")
	if DeriveRoomToken(otherKey) == token {
		t.Fatal("distinct group keys produced the same room token")
	}
}

func TestHashRoomCode_SameRoomSameFingerprint(t *testing.T) {
	a := HashRoomCode("ABCD2345")
	b := HashRoomCode("ABCD2345")
	if a != b {
		t.Fatal("HashRoomCode is not deterministic")
	}
	if len(a) != RoomTokenHexLen {
		t.Fatalf("len = %d, want %d", len(a), RoomTokenHexLen)
	}
}

func TestDeriveSessionKey_PerSenderIsolation(t *testing.T) {
	group, _ := DeriveGroupKey("hunter2", "ABCD2345")
	nonce := make([]byte, 32)

	keyA, err := DeriveSessionKey(group, nonce, "device-a")
	if err != nil {
		t.Fatalf("DeriveSessionKey: %v", err)
	}
	keyB, err := DeriveSessionKey(group, nonce, "device-b")
	if err != nil {
		t.Fatalf("DeriveSessionKey: %v", err)
	}
	if keyA == keyB {
		t.Fatal("two senders under the same session nonce derived the same key")
	}
}
