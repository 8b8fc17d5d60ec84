package session

import (
	"bytes"
	"testing"

	"tiddlysync/infrastructure/cryptography/roomkeys"
)

func newTestCipherPair(t *testing.T) (send, recv interface {
	Encrypt([]byte) ([]byte, error)
	Decrypt([]byte) ([]byte, error)
}) {
	t.Helper()
	group, err := roomkeys.DeriveGroupKey("hunter2", "ABCD2345")
	if err != nil {
		t.Fatalf("DeriveGroupKey: %v", err)
	}
	sessionNonce := make([]byte, 32)
	key, err := roomkeys.DeriveSessionKey(group, sessionNonce, "device-a")
	if err != nil {
		t.Fatalf("DeriveSessionKey: %v", err)
	}
	sessionID := [32]byte{1, 2, 3}

	sendCipher, err := New(key, sessionID, "device-a")
	if err != nil {
		t.Fatalf("New send: %v", err)
	}
	recvCipher, err := New(key, sessionID, "device-a")
	if err != nil {
		t.Fatalf("New recv: %v", err)
	}
	return sendCipher, recvCipher
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	send, recv := newTestCipherPair(t)

	plaintext := []byte(`{"title":"Hello","text":"world"}`)
	ciphertext, err := send.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := recv.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestDecrypt_WrongKeyRejected(t *testing.T) {
	group, _ := roomkeys.DeriveGroupKey("hunter2", "ABCD2345")
	wrongGroup, _ := roomkeys.DeriveGroupKey("wrong-password", "ABCD2345")
	sessionNonce := make([]byte, 32)
	sessionID := [32]byte{9, 9, 9}

	key, _ := roomkeys.DeriveSessionKey(group, sessionNonce, "device-a")
	wrongKey, _ := roomkeys.DeriveSessionKey(wrongGroup, sessionNonce, "device-a")

	send, _ := New(key, sessionID, "device-a")
	recv, _ := New(wrongKey, sessionID, "device-a")

	ciphertext, err := send.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := recv.Decrypt(ciphertext); err == nil {
		t.Fatal("expected decrypt with wrong group key to fail")
	}
}

func TestCiphers_NeverShareNonceSpaceAcrossSenders(t *testing.T) {
	group, _ := roomkeys.DeriveGroupKey("hunter2", "ABCD2345")
	sessionNonce := make([]byte, 32)
	sessionID := [32]byte{1}

	keyA, _ := roomkeys.DeriveSessionKey(group, sessionNonce, "device-a")
	keyB, _ := roomkeys.DeriveSessionKey(group, sessionNonce, "device-b")

	cipherA, _ := New(keyA, sessionID, "device-a")
	cipherB, _ := New(keyB, sessionID, "device-b")

	ctA, err := cipherA.Encrypt([]byte("from A"))
	if err != nil {
		t.Fatalf("Encrypt A: %v", err)
	}
	// A message encrypted under sender A's cipher must not decrypt under
	// sender B's independently keyed decrypt cipher, even at the same
	// nonce-counter position.
	if _, err := cipherB.Decrypt(ctA); err == nil {
		t.Fatal("expected cross-sender decrypt to fail")
	}
}
