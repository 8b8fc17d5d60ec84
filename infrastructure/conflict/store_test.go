package conflict

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tiddlysync/domain/tombstone"
	"tiddlysync/domain/vectorclock"
)

func TestStore_SetClockThenFlushPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, DefaultTombstoneRetention)
	store.SetClock("wiki1", "Hello", vectorclock.Clock{"device-a": 3})

	if err := store.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened := NewStore(dir, DefaultTombstoneRetention)
	got := reopened.Clock("wiki1", "Hello")
	if got["device-a"] != 3 {
		t.Fatalf("Clock after reopen = %v, want {device-a: 3}", got)
	}
}

func TestStore_FlushOnlyWritesDirtyWikis(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, DefaultTombstoneRetention)

	// Reading a wiki that was never set should not create a file.
	_ = store.Clock("untouched-wiki", "Hello")
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "sync-state-untouched-wiki.json")); err == nil {
		t.Fatal("expected no file for a wiki that was never written")
	}
}

func TestStore_FlushPrunesExpiredTombstones(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, 24*time.Hour)

	store.PutTombstone(tombstone.Tombstone{WikiID: "wiki1", Title: "Fresh", DeletedAt: time.Now()})
	store.PutTombstone(tombstone.Tombstone{WikiID: "wiki1", Title: "Old", DeletedAt: time.Now().Add(-48 * time.Hour)})

	if err := store.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	remaining := store.Tombstones("wiki1")
	if len(remaining) != 1 || remaining[0].Title != "Fresh" {
		t.Fatalf("expected only the fresh tombstone to remain, got %+v", remaining)
	}
}

func TestStore_PutTombstone_ReplacesExistingForSameTitle(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, DefaultTombstoneRetention)

	first := time.Now().Add(-time.Hour)
	second := time.Now()
	store.PutTombstone(tombstone.Tombstone{WikiID: "wiki1", Title: "Note", DeletedAt: first})
	store.PutTombstone(tombstone.Tombstone{WikiID: "wiki1", Title: "Note", DeletedAt: second})

	got := store.Tombstones("wiki1")
	if len(got) != 1 {
		t.Fatalf("expected one tombstone after replacing, got %d", len(got))
	}
	if !got[0].DeletedAt.Equal(second) {
		t.Fatalf("expected the second DeletedAt to win")
	}
}
