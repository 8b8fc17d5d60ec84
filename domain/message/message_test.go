package message

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"tiddlysync/domain/vectorclock"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	want := TiddlerChanged{
		WikiID:   "w1",
		Title:    "Hello",
		JSON:     []byte(`{"text":"world"}`),
		Clock:    vectorclock.Clock{"A": 1},
		Modified: "20260131000000000",
	}

	env, err := Encode(TypeTiddlerChanged, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if env.Type != TypeTiddlerChanged {
		t.Fatalf("Type = %v, want %v", env.Type, TypeTiddlerChanged)
	}

	var got TiddlerChanged
	if err := Decode(env, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFullSyncBatch_LastBatchIsOrderingBarrier(t *testing.T) {
	batch := FullSyncBatch{
		WikiID:      "w1",
		IsLastBatch: true,
		Tiddlers: []TiddlerChanged{
			{Title: "A"},
			{Title: "B"},
		},
	}
	env, err := Encode(TypeFullSyncBatch, batch)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got FullSyncBatch
	if err := Decode(env, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.IsLastBatch {
		t.Fatal("IsLastBatch did not survive round trip")
	}
	if len(got.Tiddlers) != 2 {
		t.Fatalf("len(Tiddlers) = %d, want 2", len(got.Tiddlers))
	}
}
