package replication

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tiddlysync/application"
	"tiddlysync/domain/wiki"
)

// FingerprintStore persists each wiki's cached fingerprint list to
// sync-fingerprints-<wiki_id>.json, the same sidecar-per-wiki layout as
// infrastructure/conflict.Store, so a peer's fingerprints can be served
// stale before the editor has booted (spec.md section 4.4).
type FingerprintStore struct {
	dir string

	mu    sync.Mutex
	cache map[string][]wiki.Fingerprint
}

var _ application.FingerprintStore = (*FingerprintStore)(nil)

// NewFingerprintStore opens a FingerprintStore rooted at dir.
func NewFingerprintStore(dir string) *FingerprintStore {
	return &FingerprintStore{dir: dir, cache: make(map[string][]wiki.Fingerprint)}
}

// Load returns wikiID's cached fingerprints, reading them from disk the
// first time they're touched. A wiki with no cache file yet returns an
// empty slice, not an error.
func (s *FingerprintStore) Load(wikiID string) ([]wiki.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fps, ok := s.cache[wikiID]; ok {
		return fps, nil
	}

	raw, err := os.ReadFile(s.path(wikiID))
	if os.IsNotExist(err) {
		s.cache[wikiID] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("replication: read fingerprint cache for wiki %s: %w", wikiID, err)
	}

	var fps []wiki.Fingerprint
	if err := json.Unmarshal(raw, &fps); err != nil {
		return nil, fmt.Errorf("replication: decode fingerprint cache for wiki %s: %w", wikiID, err)
	}
	s.cache[wikiID] = fps
	return fps, nil
}

// Save replaces wikiID's cached fingerprints, in memory and on disk.
func (s *FingerprintStore) Save(wikiID string, fingerprints []wiki.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := json.MarshalIndent(fingerprints, "", "  ")
	if err != nil {
		return fmt.Errorf("replication: encode fingerprint cache for wiki %s: %w", wikiID, err)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("replication: create fingerprint cache dir: %w", err)
	}
	if err := os.WriteFile(s.path(wikiID), encoded, 0644); err != nil {
		return fmt.Errorf("replication: write fingerprint cache for wiki %s: %w", wikiID, err)
	}
	s.cache[wikiID] = fingerprints
	return nil
}

func (s *FingerprintStore) path(wikiID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("sync-fingerprints-%s.json", wikiID))
}
