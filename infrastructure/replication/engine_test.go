package replication

import (
	"context"
	"testing"
	"time"

	"tiddlysync/domain/message"
	"tiddlysync/domain/vectorclock"
	"tiddlysync/domain/wiki"
)

type testLogger struct{}

func (testLogger) Printf(string, ...any) {}

func TestDiff_FindsMissingAndStaleTitles(t *testing.T) {
	ours := []wiki.Fingerprint{
		{Title: "Hello", ModifiedString: "2026-01-01T00:00:00Z"},
		{Title: "Unchanged", ModifiedString: "2026-01-02T00:00:00Z"},
	}
	theirs := []wiki.Fingerprint{
		{Title: "Hello", ModifiedString: "2026-01-05T00:00:00Z"}, // stale on our side
		{Title: "Unchanged", ModifiedString: "2026-01-02T00:00:00Z"},
		{Title: "New", ModifiedString: "2026-01-03T00:00:00Z"}, // missing on our side
		{Title: "Tombstoned", ModifiedString: "2026-01-03T00:00:00Z"},
	}

	needed := Diff(ours, theirs, func(title string) bool { return title == "Tombstoned" })

	want := map[string]bool{"Hello": true, "New": true}
	if len(needed) != len(want) {
		t.Fatalf("Diff() = %v, want titles matching %v", needed, want)
	}
	for _, title := range needed {
		if !want[title] {
			t.Errorf("unexpected title %q in diff result", title)
		}
	}
}

func TestEngine_ShouldSendFingerprints_SuppressesWithinWindow(t *testing.T) {
	e := NewEngine(NewFingerprintStore(t.TempDir()), testLogger{})

	if !e.ShouldSendFingerprints("peer-a", "wiki1") {
		t.Fatal("first send should be allowed")
	}
	if e.ShouldSendFingerprints("peer-a", "wiki1") {
		t.Fatal("second send within DedupWindow should be suppressed")
	}
	if !e.ShouldSendFingerprints("peer-b", "wiki1") {
		t.Fatal("a different peer must not be suppressed by peer-a's send")
	}
}

func TestEngine_Overrides_FilterAndClear(t *testing.T) {
	e := NewEngine(NewFingerprintStore(t.TempDir()), testLogger{})
	e.MarkOverride("wiki1", "CacheOnly")

	fps := []wiki.Fingerprint{
		{Title: "CacheOnly", ModifiedString: "2026-01-01T00:00:00Z"},
		{Title: "OnDisk", ModifiedString: "2026-01-01T00:00:00Z"},
	}
	filtered := e.FilterOverridden("wiki1", fps)
	if len(filtered) != 1 || filtered[0].Title != "OnDisk" {
		t.Fatalf("expected only OnDisk to remain, got %+v", filtered)
	}

	e.ClearOverrides("wiki1")
	filtered = e.FilterOverridden("wiki1", fps)
	if len(filtered) != 2 {
		t.Fatalf("expected no filtering after ClearOverrides, got %+v", filtered)
	}
}

func TestEngine_ScheduleVerification_SkipsWhenNothingApplied(t *testing.T) {
	e := NewEngine(NewFingerprintStore(t.TempDir()), testLogger{})
	called := make(chan struct{}, 1)

	e.ScheduleVerification(context.Background(), false, func(context.Context) error {
		called <- struct{}{}
		return nil
	})

	select {
	case <-called:
		t.Fatal("verification must not run when appliedAny is false")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_ScheduleVerification_FiresAfterDelay(t *testing.T) {
	e := NewEngine(NewFingerprintStore(t.TempDir()), testLogger{})
	called := make(chan struct{}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*VerificationDelay)
	defer cancel()

	e.ScheduleVerification(ctx, true, func(context.Context) error {
		called <- struct{}{}
		return nil
	})

	select {
	case <-called:
	case <-time.After(VerificationDelay + 500*time.Millisecond):
		t.Fatal("verification did not fire in time")
	}
}

func TestFingerprintStore_SaveThenLoadAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	store := NewFingerprintStore(dir)
	fps := []wiki.Fingerprint{{Title: "Hello", ModifiedString: "2026-01-01T00:00:00Z"}}

	if err := store.Save("wiki1", fps); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened := NewFingerprintStore(dir)
	got, err := reopened.Load("wiki1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Hello" {
		t.Fatalf("Load() = %+v, want %+v", got, fps)
	}
}

func TestFingerprintStore_LoadUnknownWikiReturnsEmpty(t *testing.T) {
	store := NewFingerprintStore(t.TempDir())
	got, err := store.Load("never-saved")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Load() = %+v, want empty", got)
	}
}

type fakeConflictManager struct {
	applied map[string]bool // title -> whether ShouldApply should report true
}

func (f *fakeConflictManager) ShouldApply(wikiID, title string, remoteClock vectorclock.Clock, remoteModified, localModified time.Time, remoteDeviceID string) bool {
	return f.applied[title]
}

func TestApplyBatch_FiltersToOnlyShouldApplyTiddlers(t *testing.T) {
	cm := &fakeConflictManager{applied: map[string]bool{"Hello": true, "Stale": false}}
	batch := message.FullSyncBatch{
		WikiID: "wiki1",
		Tiddlers: []message.TiddlerChanged{
			{WikiID: "wiki1", Title: "Hello", Modified: "2026-01-01T00:00:00Z"},
			{WikiID: "wiki1", Title: "Stale", Modified: "2026-01-01T00:00:00Z"},
		},
	}

	result := ApplyBatch(cm, "wiki1", batch, func(string) time.Time { return time.Time{} }, "peer-a")

	if !result.AppliedAny {
		t.Fatal("expected AppliedAny true")
	}
	if len(result.Applied) != 1 || result.Applied[0].Title != "Hello" {
		t.Fatalf("Applied = %+v, want only Hello", result.Applied)
	}
}

func TestApplyBatch_ReplayIsNoOp(t *testing.T) {
	// Simulates the clock already having been advanced by the first
	// delivery: ConflictManager now reports false for everything, so a
	// second, identical FullSyncBatch applies nothing.
	cm := &fakeConflictManager{applied: map[string]bool{}}
	batch := message.FullSyncBatch{
		WikiID: "wiki1",
		Tiddlers: []message.TiddlerChanged{
			{WikiID: "wiki1", Title: "Hello", Modified: "2026-01-01T00:00:00Z"},
		},
	}

	result := ApplyBatch(cm, "wiki1", batch, func(string) time.Time { return time.Time{} }, "peer-a")

	if result.AppliedAny || len(result.Applied) != 0 {
		t.Fatalf("expected no-op on replay, got %+v", result)
	}
}
