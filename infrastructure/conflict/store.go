package conflict

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tiddlysync/application"
	"tiddlysync/domain/tombstone"
	"tiddlysync/domain/vectorclock"
)

// DefaultTombstoneRetention is how long a deletion tombstone is kept
// before pruning, per spec.md section 4.3's own suggested default.
const DefaultTombstoneRetention = 30 * 24 * time.Hour

// flushInterval is the dirty-flag coalescing cadence from spec.md
// section 9 ("saving on every update would be too expensive").
const flushInterval = 15 * time.Second

type wikiState struct {
	Clocks     map[string]vectorclock.Clock `json:"clocks"` // by title
	Tombstones []tombstone.Tombstone        `json:"tombstones"`
}

// Store persists per-wiki vector clocks and tombstones to a JSON sidecar
// file, coalescing writes behind a dirty flag flushed every
// flushInterval (and at shutdown) rather than on every update.
type Store struct {
	dir       string
	retention time.Duration

	mu     sync.Mutex
	states map[string]*wikiState // by wiki id
	dirty  map[string]bool
}

var _ application.ClockStore = (*Store)(nil)

// NewStore opens a Store rooted at dir, one JSON file per wiki.
func NewStore(dir string, retention time.Duration) *Store {
	return &Store{
		dir:       dir,
		retention: retention,
		states:    make(map[string]*wikiState),
		dirty:     make(map[string]bool),
	}
}

// Run flushes dirty wikis every flushInterval until ctx is done, then
// flushes once more before returning.
func (s *Store) Run(stop <-chan struct{}, logger application.Logger) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			if err := s.Flush(); err != nil {
				logger.Printf("conflict: final flush failed: %v", err)
			}
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				logger.Printf("conflict: flush failed: %v", err)
			}
		}
	}
}

func (s *Store) Clock(wikiID, title string) vectorclock.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.loadLocked(wikiID)
	return st.Clocks[title].Clone()
}

func (s *Store) SetClock(wikiID, title string, clock vectorclock.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.loadLocked(wikiID)
	st.Clocks[title] = clock.Clone()
	s.dirty[wikiID] = true
}

func (s *Store) Tombstones(wikiID string) []tombstone.Tombstone {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.loadLocked(wikiID)
	out := make([]tombstone.Tombstone, len(st.Tombstones))
	copy(out, st.Tombstones)
	return out
}

func (s *Store) PutTombstone(t tombstone.Tombstone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.loadLocked(t.WikiID)
	for i, existing := range st.Tombstones {
		if existing.Title == t.Title {
			st.Tombstones[i] = t
			s.dirty[t.WikiID] = true
			return
		}
	}
	st.Tombstones = append(st.Tombstones, t)
	s.dirty[t.WikiID] = true
}

// Flush persists every dirty wiki's state to disk and prunes tombstones
// past the retention window, clearing each wiki's dirty flag as it's
// written.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for wikiID, st := range s.states {
		kept := st.Tombstones[:0]
		for _, t := range st.Tombstones {
			if !t.Expired(now, s.retention) {
				kept = append(kept, t)
			}
		}
		st.Tombstones = kept

		if !s.dirty[wikiID] {
			continue
		}
		if err := s.writeLocked(wikiID, st); err != nil {
			return err
		}
		s.dirty[wikiID] = false
	}
	return nil
}

// loadLocked returns the cached state for wikiID, lazily reading it from
// disk the first time it's touched. Caller must hold s.mu.
func (s *Store) loadLocked(wikiID string) *wikiState {
	if st, ok := s.states[wikiID]; ok {
		return st
	}
	st := &wikiState{Clocks: make(map[string]vectorclock.Clock)}
	raw, err := os.ReadFile(s.path(wikiID))
	if err == nil {
		_ = json.Unmarshal(raw, st)
		if st.Clocks == nil {
			st.Clocks = make(map[string]vectorclock.Clock)
		}
	}
	s.states[wikiID] = st
	return st
}

func (s *Store) writeLocked(wikiID string, st *wikiState) error {
	encoded, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("conflict: encode state for wiki %s: %w", wikiID, err)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("conflict: create state dir: %w", err)
	}
	if err := os.WriteFile(s.path(wikiID), encoded, 0644); err != nil {
		return fmt.Errorf("conflict: write state for wiki %s: %w", wikiID, err)
	}
	return nil
}

func (s *Store) path(wikiID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("sync-state-%s.json", wikiID))
}
