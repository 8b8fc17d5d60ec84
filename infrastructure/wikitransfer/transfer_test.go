package wikitransfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tiddlysync/domain/message"
)

type testLogger struct{}

func (testLogger) Printf(string, ...any) {}

func writeFixtureTree(t *testing.T, root string) {
	t.Helper()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(os.MkdirAll(filepath.Join(root, "tiddlers"), 0755))
	must(os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>wiki shell</html>"), 0644))
	must(os.WriteFile(filepath.Join(root, "tiddlers", "Hello.tid"), []byte("title: Hello\n\nBody text"), 0644))
}

func TestSenderReceiver_RoundTripsTreeAndRegistersEarly(t *testing.T) {
	srcRoot := t.TempDir()
	writeFixtureTree(t, srcRoot)

	destRoot := t.TempDir()
	var registeredWiki string
	receiver := NewReceiver(destRoot, func(wikiID string) error {
		registeredWiki = wikiID
		return nil
	}, testLogger{})

	sender := NewSender(srcRoot)
	chunks, errc := sender.Walk(context.Background(), "wiki1", nil)
	for chunk := range chunks {
		if err := receiver.HandleChunk(chunk); err != nil {
			t.Fatalf("HandleChunk: %v", err)
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("Walk error: %v", err)
	}
	if err := receiver.HandleComplete(message.WikiFileComplete{WikiID: "wiki1"}); err != nil {
		t.Fatalf("HandleComplete: %v", err)
	}

	if registeredWiki != "wiki1" {
		t.Fatalf("expected early registration for wiki1, got %q", registeredWiki)
	}

	gotHTML, err := os.ReadFile(filepath.Join(destRoot, "index.html"))
	if err != nil {
		t.Fatalf("read index.html: %v", err)
	}
	if string(gotHTML) != "<html>wiki shell</html>" {
		t.Fatalf("index.html mismatch: %q", gotHTML)
	}

	gotTiddler, err := os.ReadFile(filepath.Join(destRoot, "tiddlers", "Hello.tid"))
	if err != nil {
		t.Fatalf("read tiddler: %v", err)
	}
	if string(gotTiddler) != "title: Hello\n\nBody text" {
		t.Fatalf("tiddler content mismatch: %q", gotTiddler)
	}
}

func TestSender_SkipsFilesAlreadyPresentWithMatchingHash(t *testing.T) {
	srcRoot := t.TempDir()
	writeFixtureTree(t, srcRoot)

	sum, err := hashFile(filepath.Join(srcRoot, "index.html"))
	if err != nil {
		t.Fatalf("hashFile: %v", err)
	}
	info, err := os.Stat(filepath.Join(srcRoot, "index.html"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	sender := NewSender(srcRoot)
	chunks, errc := sender.Walk(context.Background(), "wiki1", []message.HaveFileEntry{
		{Path: "index.html", Size: info.Size(), SHA256: sum},
	})

	var filenames []string
	for chunk := range chunks {
		filenames = append(filenames, chunk.Filename)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Walk error: %v", err)
	}

	for _, name := range filenames {
		if name == "index.html" {
			t.Fatalf("expected index.html to be skipped, got chunks for it: %v", filenames)
		}
	}
}

func TestReceiver_RejectsPathTraversalFilename(t *testing.T) {
	destRoot := t.TempDir()
	receiver := NewReceiver(destRoot, func(string) error { return nil }, testLogger{})
	err := receiver.HandleChunk(message.WikiFileChunk{WikiID: "wiki1", Filename: "../../etc/passwd", Idx: 0, B64: "AAAA"})
	if err == nil {
		t.Fatal("expected path traversal rejection")
	}
}
