package frame

import (
	"bytes"
	"testing"
)

func TestSessionInit_RoundTrip(t *testing.T) {
	want := SessionInit{Nonce: [32]byte{1, 2, 3}, DeviceID: "device-a"}
	got, err := DecodeSessionInit(EncodeSessionInit(want))
	if err != nil {
		t.Fatalf("DecodeSessionInit: %v", err)
	}
	if got.Nonce != want.Nonce || got.DeviceID != want.DeviceID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestData_RoundTrip_Broadcast(t *testing.T) {
	want := Data{SenderID: "device-a", Mode: ModeBroadcast, Ciphertext: []byte("ciphertext-bytes")}
	got, err := DecodeData(EncodeData(want))
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if got.SenderID != want.SenderID || got.Mode != want.Mode || !bytes.Equal(got.Ciphertext, want.Ciphertext) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestData_RoundTrip_Direct(t *testing.T) {
	want := Data{SenderID: "device-a", Mode: ModeDirect, RecipientID: "device-b", Ciphertext: []byte("secret")}
	got, err := DecodeData(EncodeData(want))
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if got.RecipientID != want.RecipientID {
		t.Fatalf("RecipientID = %q, want %q", got.RecipientID, want.RecipientID)
	}
}

func TestChunk_RoundTrip(t *testing.T) {
	want := Chunk{SenderID: "device-a", Mode: ModeBroadcast, MsgID: [16]byte{1, 2, 3, 4}, Idx: 2, Total: 5, Payload: bytes.Repeat([]byte{0xAB}, 1024)}
	got, err := DecodeChunk(EncodeChunk(want))
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if got.SenderID != want.SenderID || got.MsgID != want.MsgID || got.Idx != want.Idx || got.Total != want.Total || !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want len(payload)=%d", got, len(want.Payload))
	}
}

func TestDecodeData_RejectsWrongPrefix(t *testing.T) {
	bogus := EncodeSessionInit(SessionInit{DeviceID: "x"})
	if _, err := DecodeData(bogus); err == nil {
		t.Fatal("expected DecodeData to reject a session_init frame")
	}
}

func TestPeekKind(t *testing.T) {
	k, err := PeekKind(EncodeChunk(Chunk{}))
	if err != nil {
		t.Fatalf("PeekKind: %v", err)
	}
	if k != KindChunk {
		t.Fatalf("PeekKind() = %v, want %v", k, KindChunk)
	}
}
