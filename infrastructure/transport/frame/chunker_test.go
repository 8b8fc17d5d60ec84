package frame

import (
	"bytes"
	"math/rand"
	"testing"
	"time"
)

func TestSplit_BelowThresholdReturnsNil(t *testing.T) {
	chunks, err := Split("device-a", ModeBroadcast, "", bytes.Repeat([]byte{1}, ChunkThreshold))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if chunks != nil {
		t.Fatalf("expected no chunking at exactly the threshold, got %d chunks", len(chunks))
	}
}

func TestSplitAndReassemble_RoundTrip(t *testing.T) {
	src := rand.New(rand.NewSource(1))
	payload := make([]byte, ChunkThreshold+ChunkSize+17)
	src.Read(payload)

	chunks, err := Split("device-a", ModeBroadcast, "", payload)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected payload to split into multiple chunks, got %d", len(chunks))
	}

	r := NewReassembler()
	var got []byte
	var complete bool
	// Feed chunks out of order to exercise reassembly independent of arrival order.
	order := []int{2, 0, 1}
	for i := 3; i < len(chunks); i++ {
		order = append(order, i)
	}
	for _, idx := range order {
		out, ok := r.Add(chunks[idx])
		if ok {
			got, complete = out, true
		}
	}
	if !complete {
		t.Fatal("reassembly did not complete after all chunks were added")
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("reassembled payload does not match original")
	}
}

func TestSplit_DirectModeCarriesRecipient(t *testing.T) {
	chunks, err := Split("device-a", ModeDirect, "device-b", bytes.Repeat([]byte{2}, ChunkThreshold+1))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for _, c := range chunks {
		if c.Mode != ModeDirect || c.RecipientID != "device-b" {
			t.Fatalf("chunk lost addressing: %+v", c)
		}
		got, err := DecodeChunk(EncodeChunk(c))
		if err != nil {
			t.Fatalf("DecodeChunk: %v", err)
		}
		if got.RecipientID != "device-b" {
			t.Fatalf("round trip RecipientID = %q, want %q", got.RecipientID, "device-b")
		}
	}
}

func TestReassembler_DropsIncompleteAfterTimeout(t *testing.T) {
	r := NewReassembler()
	now := time.Now()
	r.now = func() time.Time { return now }

	chunks, err := Split("device-a", ModeBroadcast, "", bytes.Repeat([]byte{9}, ChunkThreshold+1))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatal("expected at least two chunks")
	}

	if _, ok := r.Add(chunks[0]); ok {
		t.Fatal("should not complete after only one of many chunks")
	}

	now = now.Add(31 * time.Second)
	// Adding an unrelated chunk triggers pruning of the expired buffer.
	r.Add(Chunk{SenderID: "device-b", MsgID: [16]byte{9, 9}, Idx: 0, Total: 1, Payload: []byte("x")})

	if _, ok := r.Add(chunks[1]); ok {
		t.Fatal("expected the original buffer to have been dropped after its deadline passed")
	}
}

func TestReassembler_DuplicateChunkIgnored(t *testing.T) {
	r := NewReassembler()
	msgID := [16]byte{1}
	c0 := Chunk{SenderID: "device-a", MsgID: msgID, Idx: 0, Total: 2, Payload: []byte("aa")}
	c1 := Chunk{SenderID: "device-a", MsgID: msgID, Idx: 1, Total: 2, Payload: []byte("bb")}

	if _, ok := r.Add(c0); ok {
		t.Fatal("should not complete after first chunk")
	}
	if _, ok := r.Add(c0); ok {
		t.Fatal("duplicate chunk must not complete reassembly")
	}
	out, ok := r.Add(c1)
	if !ok {
		t.Fatal("expected completion after all distinct chunks arrived")
	}
	if !bytes.Equal(out, []byte("aabb")) {
		t.Fatalf("got %q, want %q", out, "aabb")
	}
}
