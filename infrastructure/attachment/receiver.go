package attachment

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"tiddlysync/application"
	"tiddlysync/domain/message"
	"tiddlysync/infrastructure/pathsafety"
)

// Suppressor is the subset of application.AttachmentWatcher Receiver
// needs: telling the local watcher to ignore the file it's about to
// write, so receiving a sync update doesn't loop back out as a local
// change.
type Suppressor interface {
	Suppress(relativePath string)
}

type transferKey struct {
	WikiID   string
	Filename string
}

type inProgressTransfer struct {
	expectedSHA256 string
	chunkCount     int
	chunks         map[int][]byte
	targetPath     string
}

// Receiver reassembles incoming AttachmentChunk streams into files under
// baseDir, skipping transfers whose target already matches the
// advertised hash and re-verifying the hash once every chunk has
// arrived.
type Receiver struct {
	baseDir    string
	suppressor Suppressor
	logger     application.Logger

	mu        sync.Mutex
	transfers map[transferKey]*inProgressTransfer
	skipped   map[transferKey]bool
}

// NewReceiver builds a Receiver rooted at baseDir.
func NewReceiver(baseDir string, suppressor Suppressor, logger application.Logger) *Receiver {
	return &Receiver{
		baseDir:    baseDir,
		suppressor: suppressor,
		logger:     logger,
		transfers:  make(map[transferKey]*inProgressTransfer),
		skipped:    make(map[transferKey]bool),
	}
}

// HandleAttachmentChanged begins a transfer, or marks it skipped if the
// local file already matches header's hash — subsequent
// HandleAttachmentChunk calls for the same (wiki_id, filename) are then
// silently discarded.
func (r *Receiver) HandleAttachmentChanged(header message.AttachmentChanged) error {
	path, err := pathsafety.Validate(r.baseDir, header.Filename)
	if err != nil {
		return err
	}
	key := transferKey{WikiID: header.WikiID, Filename: header.Filename}

	if existing, err := hashFile(path); err == nil && existing == header.SHA256 {
		r.mu.Lock()
		r.skipped[key] = true
		delete(r.transfers, key)
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	delete(r.skipped, key)
	r.transfers[key] = &inProgressTransfer{
		expectedSHA256: header.SHA256,
		chunkCount:     header.ChunkCount,
		chunks:         make(map[int][]byte, header.ChunkCount),
		targetPath:     path,
	}
	r.mu.Unlock()
	return nil
}

// HandleAttachmentChunk buffers an incoming chunk, writing the assembled
// file and re-hashing it once the full set has arrived. Returns true
// when this chunk completed the transfer.
func (r *Receiver) HandleAttachmentChunk(chunk message.AttachmentChunk) (complete bool, err error) {
	key := transferKey{WikiID: chunk.WikiID, Filename: chunk.Filename}

	r.mu.Lock()
	if r.skipped[key] {
		r.mu.Unlock()
		return false, nil
	}
	t, ok := r.transfers[key]
	r.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("attachment: chunk for unknown transfer %s/%s", chunk.WikiID, chunk.Filename)
	}

	data, err := base64.StdEncoding.DecodeString(chunk.B64)
	if err != nil {
		return false, fmt.Errorf("attachment: decode chunk %d of %s: %w", chunk.Idx, chunk.Filename, err)
	}

	r.mu.Lock()
	t.chunks[chunk.Idx] = data
	received := len(t.chunks)
	r.mu.Unlock()

	if received < t.chunkCount {
		return false, nil
	}
	if err := r.finish(key, t); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Receiver) finish(key transferKey, t *inProgressTransfer) error {
	if err := os.MkdirAll(filepath.Dir(t.targetPath), 0755); err != nil {
		return fmt.Errorf("attachment: create parent dir for %s: %w", t.targetPath, err)
	}

	f, err := os.Create(t.targetPath)
	if err != nil {
		return fmt.Errorf("attachment: create %s: %w", t.targetPath, err)
	}

	h := sha256.New()
	for i := 0; i < t.chunkCount; i++ {
		chunk, ok := t.chunks[i]
		if !ok {
			f.Close()
			return fmt.Errorf("attachment: missing chunk %d of %d for %s", i, t.chunkCount, key.Filename)
		}
		if _, err := f.Write(chunk); err != nil {
			f.Close()
			return fmt.Errorf("attachment: write %s: %w", t.targetPath, err)
		}
		h.Write(chunk)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("attachment: close %s: %w", t.targetPath, err)
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != t.expectedSHA256 {
		return fmt.Errorf("attachment: hash mismatch for %s: got %s, want %s", key.Filename, got, t.expectedSHA256)
	}

	r.suppressor.Suppress(key.Filename)

	r.mu.Lock()
	delete(r.transfers, key)
	r.mu.Unlock()
	return nil
}

// HandleAttachmentDeleted removes a file a peer reports as deleted,
// suppressing the local watcher's echo of our own removal.
func (r *Receiver) HandleAttachmentDeleted(deleted message.AttachmentDeleted) error {
	path, err := pathsafety.Validate(r.baseDir, deleted.Filename)
	if err != nil {
		return err
	}
	r.suppressor.Suppress(deleted.Filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("attachment: remove %s: %w", deleted.Filename, err)
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
