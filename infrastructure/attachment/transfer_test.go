package attachment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tiddlysync/domain/message"
)

type fakeSuppressor struct {
	suppressed []string
}

func (f *fakeSuppressor) Suppress(relativePath string) {
	f.suppressed = append(f.suppressed, relativePath)
}

type testLogger struct{}

func (testLogger) Printf(string, ...any) {}

func TestSender_PrepareThenStream_RoundTripsThroughReceiver(t *testing.T) {
	srcDir := t.TempDir()
	content := make([]byte, ChunkSize*2+100)
	for i := range content {
		content[i] = byte(i % 251)
	}
	if err := os.MkdirAll(filepath.Join(srcDir, "images"), 0755); err != nil {
		t.Fatalf("mkdir fixture dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "images/cat.png"), content, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	sender := NewSender(srcDir)
	header, err := sender.Prepare("wiki1", "images/cat.png")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if header.Size != int64(len(content)) {
		t.Fatalf("header.Size = %d, want %d", header.Size, len(content))
	}

	destDir := t.TempDir()
	suppressor := &fakeSuppressor{}
	receiver := NewReceiver(destDir, suppressor, testLogger{})
	if err := receiver.HandleAttachmentChanged(header); err != nil {
		t.Fatalf("HandleAttachmentChanged: %v", err)
	}

	chunks, errc := sender.Stream(context.Background(), "wiki1", "images/cat.png")
	var lastComplete bool
	for chunk := range chunks {
		complete, err := receiver.HandleAttachmentChunk(chunk)
		if err != nil {
			t.Fatalf("HandleAttachmentChunk: %v", err)
		}
		lastComplete = complete
	}
	if err := <-errc; err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	if !lastComplete {
		t.Fatal("expected the final chunk to complete the transfer")
	}

	got, err := os.ReadFile(filepath.Join(destDir, "images/cat.png"))
	if err != nil {
		t.Fatalf("read reassembled file: %v", err)
	}
	if len(got) != len(content) {
		t.Fatalf("reassembled length = %d, want %d", len(got), len(content))
	}
	for i := range got {
		if got[i] != content[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], content[i])
		}
	}
	if len(suppressor.suppressed) != 1 || suppressor.suppressed[0] != "images/cat.png" {
		t.Fatalf("expected the written file to be suppressed once, got %v", suppressor.suppressed)
	}
}

func TestReceiver_SkipsTransferWhenHashAlreadyMatches(t *testing.T) {
	destDir := t.TempDir()
	_ = os.MkdirAll(filepath.Join(destDir, "images"), 0755)
	content := []byte("already up to date")
	if err := os.WriteFile(filepath.Join(destDir, "images/cat.png"), content, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	existingHash, err := hashFile(filepath.Join(destDir, "images/cat.png"))
	if err != nil {
		t.Fatalf("hashFile: %v", err)
	}

	suppressor := &fakeSuppressor{}
	receiver := NewReceiver(destDir, suppressor, testLogger{})
	header := message.AttachmentChanged{WikiID: "wiki1", Filename: "images/cat.png", SHA256: existingHash, ChunkCount: 1}
	if err := receiver.HandleAttachmentChanged(header); err != nil {
		t.Fatalf("HandleAttachmentChanged: %v", err)
	}

	complete, err := receiver.HandleAttachmentChunk(message.AttachmentChunk{WikiID: "wiki1", Filename: "images/cat.png", Idx: 0, B64: "garbage"})
	if err != nil {
		t.Fatalf("expected the skipped chunk to be silently discarded, got error: %v", err)
	}
	if complete {
		t.Fatal("a skipped transfer must not report complete")
	}
}

func TestReceiver_RejectsPathTraversalFilename(t *testing.T) {
	destDir := t.TempDir()
	receiver := NewReceiver(destDir, &fakeSuppressor{}, testLogger{})
	header := message.AttachmentChanged{WikiID: "wiki1", Filename: "../../etc/passwd", ChunkCount: 1}
	if err := receiver.HandleAttachmentChanged(header); err == nil {
		t.Fatal("expected path traversal rejection")
	}
}
