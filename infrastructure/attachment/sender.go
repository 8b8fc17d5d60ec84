package attachment

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"tiddlysync/domain/message"
	"tiddlysync/infrastructure/pathsafety"
)

// ChunkSize matches the original Rust implementation's
// ATTACHMENT_CHUNK_SIZE (256KB), small enough to keep per-chunk memory
// bounded on mobile.
const ChunkSize = 256 * 1024

// Sender streams an attachment file to a peer in two passes: Prepare
// hashes the whole file once to build the AttachmentChanged header, then
// Stream re-reads it through a reader goroutine feeding a buffered
// channel of raw chunks (capacity 8), decoupling disk I/O from whatever
// backpressure the transport applies.
type Sender struct {
	baseDir string
}

// NewSender builds a Sender rooted at baseDir (a wiki's attachment
// folder).
func NewSender(baseDir string) *Sender {
	return &Sender{baseDir: baseDir}
}

// Prepare computes the SHA-256 and size of relativePath, returning the
// header a peer uses to decide whether it already has this file.
func (s *Sender) Prepare(wikiID, relativePath string) (message.AttachmentChanged, error) {
	path, err := pathsafety.Validate(s.baseDir, relativePath)
	if err != nil {
		return message.AttachmentChanged{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return message.AttachmentChanged{}, fmt.Errorf("attachment: open %s: %w", relativePath, err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return message.AttachmentChanged{}, fmt.Errorf("attachment: hash %s: %w", relativePath, err)
	}

	chunkCount := int((size + ChunkSize - 1) / ChunkSize)
	if size == 0 {
		chunkCount = 1
	}

	return message.AttachmentChanged{
		WikiID:     wikiID,
		Filename:   relativePath,
		Size:       size,
		SHA256:     hex.EncodeToString(h.Sum(nil)),
		ChunkCount: chunkCount,
	}, nil
}

// Stream re-opens relativePath and emits it as a sequence of
// base64-encoded AttachmentChunk messages, in order, closing the
// returned channel when done or when ctx is cancelled.
func (s *Sender) Stream(ctx context.Context, wikiID, relativePath string) (<-chan message.AttachmentChunk, <-chan error) {
	out := make(chan message.AttachmentChunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)

		path, err := pathsafety.Validate(s.baseDir, relativePath)
		if err != nil {
			errc <- err
			return
		}
		f, err := os.Open(path)
		if err != nil {
			errc <- fmt.Errorf("attachment: open %s: %w", relativePath, err)
			return
		}
		defer f.Close()

		raw := make(chan []byte, 8)
		go func() {
			defer close(raw)
			for {
				buf := make([]byte, ChunkSize)
				n, readErr := f.Read(buf)
				if n > 0 {
					select {
					case raw <- buf[:n]:
					case <-ctx.Done():
						return
					}
				}
				if readErr == io.EOF {
					return
				}
				if readErr != nil {
					select {
					case errc <- fmt.Errorf("attachment: read %s: %w", relativePath, readErr):
					default:
					}
					return
				}
			}
		}()

		idx := 0
		for chunk := range raw {
			msg := message.AttachmentChunk{
				WikiID:   wikiID,
				Filename: relativePath,
				Idx:      idx,
				B64:      base64.StdEncoding.EncodeToString(chunk),
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
			idx++
		}
	}()

	return out, errc
}
