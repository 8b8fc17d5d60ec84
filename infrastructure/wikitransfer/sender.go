// Package wikitransfer implements the bootstrap full-wiki transfer from
// spec.md section 4.6: Sender streams a folder wiki's tree as a sequence
// of WikiFileChunk messages with no upfront chunk count, Receiver
// detects file boundaries by filename change and registers the wiki
// early so an interrupted transfer can resume.
package wikitransfer

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"tiddlysync/domain/message"
)

// ChunkSize matches infrastructure/attachment.ChunkSize; both stream
// over the same peer connection and should behave the same under
// backpressure.
const ChunkSize = 256 * 1024

// Sender streams rootDir's tree as WikiFileChunk messages, skipping any
// file already listed in have with a matching size and SHA-256.
type Sender struct {
	rootDir string
}

// NewSender builds a Sender rooted at a wiki's folder.
func NewSender(rootDir string) *Sender {
	return &Sender{rootDir: rootDir}
}

// Walk streams every file under rootDir not already present (per have)
// as WikiFileChunk messages, closing the returned channel once the walk
// completes.
func (s *Sender) Walk(ctx context.Context, wikiID string, have []message.HaveFileEntry) (<-chan message.WikiFileChunk, <-chan error) {
	haveIndex := make(map[string]message.HaveFileEntry, len(have))
	for _, h := range have {
		haveIndex[h.Path] = h
	}

	out := make(chan message.WikiFileChunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil || d.IsDir() {
				return walkErr
			}
			rel, relErr := filepath.Rel(s.rootDir, path)
			if relErr != nil {
				return relErr
			}
			rel = filepath.ToSlash(rel)

			if existing, ok := haveIndex[rel]; ok {
				info, statErr := d.Info()
				if statErr == nil && existing.Size == info.Size() {
					if existing.SHA256 == "" {
						return nil // size-only match, receiver didn't ask to verify the hash
					}
					if sum, hashErr := hashFile(path); hashErr == nil && sum == existing.SHA256 {
						return nil
					}
				}
			}

			return s.streamFile(ctx, out, wikiID, rel, path)
		})
		if err != nil && err != context.Canceled {
			errc <- err
		}
	}()

	return out, errc
}

func (s *Sender) streamFile(ctx context.Context, out chan<- message.WikiFileChunk, wikiID, rel, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("wikitransfer: open %s: %w", rel, err)
	}
	defer f.Close()

	buf := make([]byte, ChunkSize)
	idx := 0
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			msg := message.WikiFileChunk{
				WikiID:   wikiID,
				Filename: rel,
				Idx:      idx,
				B64:      base64.StdEncoding.EncodeToString(buf[:n]),
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
			idx++
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("wikitransfer: read %s: %w", rel, readErr)
		}
	}
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
