package wikitransfer

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"tiddlysync/application"
	"tiddlysync/domain/message"
	"tiddlysync/infrastructure/pathsafety"
)

// Receiver reassembles an incoming bootstrap transfer, detecting file
// boundaries purely by filename change (spec.md section 4.6: no
// upfront chunk count). Chunks for a given file are assumed to arrive
// in order over one peer connection, the same ordering guarantee
// FullSyncBatch relies on.
type Receiver struct {
	rootDir       string
	registerEarly func(wikiID string) error
	logger        application.Logger

	mu          sync.Mutex
	wikiID      string
	current     string
	currentFile *os.File
	registered  bool
}

// NewReceiver builds a Receiver rooted at rootDir. registerEarly is
// called once, at the HTML-file boundary, so the wiki becomes usable
// (and a resumed transfer recognizable) before the rest of its folder
// tree has arrived.
func NewReceiver(rootDir string, registerEarly func(wikiID string) error, logger application.Logger) *Receiver {
	return &Receiver{rootDir: rootDir, registerEarly: registerEarly, logger: logger}
}

// HandleChunk appends chunk's decoded bytes to the file it names,
// opening a new target file whenever the filename changes from the
// previous chunk.
func (r *Receiver) HandleChunk(chunk message.WikiFileChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if chunk.Filename != r.current {
		if err := r.closeCurrentLocked(); err != nil {
			return err
		}
		path, err := pathsafety.Validate(r.rootDir, chunk.Filename)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("wikitransfer: create parent dir for %s: %w", chunk.Filename, err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("wikitransfer: create %s: %w", chunk.Filename, err)
		}
		r.current = chunk.Filename
		r.currentFile = f
		r.wikiID = chunk.WikiID

		if !r.registered && isWikiHTMLFile(chunk.Filename) {
			if err := r.registerEarly(chunk.WikiID); err != nil {
				r.logger.Printf("wikitransfer: early register failed for wiki %s: %v", chunk.WikiID, err)
			} else {
				r.registered = true
			}
		}
	}

	data, err := base64.StdEncoding.DecodeString(chunk.B64)
	if err != nil {
		return fmt.Errorf("wikitransfer: decode chunk %d of %s: %w", chunk.Idx, chunk.Filename, err)
	}
	if _, err := r.currentFile.Write(data); err != nil {
		return fmt.Errorf("wikitransfer: write %s: %w", chunk.Filename, err)
	}
	return nil
}

// HandleComplete closes out the transfer on WikiFileComplete.
func (r *Receiver) HandleComplete(message.WikiFileComplete) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCurrentLocked()
}

func (r *Receiver) closeCurrentLocked() error {
	if r.currentFile == nil {
		return nil
	}
	err := r.currentFile.Close()
	r.currentFile = nil
	r.current = ""
	if err != nil {
		return fmt.Errorf("wikitransfer: close %s: %w", r.current, err)
	}
	return nil
}

// isWikiHTMLFile reports whether filename is the single-file wiki's main
// HTML document, the point at which a folder wiki (or single-file wiki)
// transfer is far enough along to register.
func isWikiHTMLFile(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".html")
}
