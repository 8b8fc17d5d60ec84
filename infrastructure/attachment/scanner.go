package attachment

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"tiddlysync/application"
)

// ScanInterval is the Android polling cadence: no inotify-equivalent is
// usable across the SAF document-tree boundary, so Scanner falls back to
// a periodic directory walk, matching the Rust original's SAF snapshot
// diff (attachments.rs diff_attachment_snapshot).
const ScanInterval = 30 * time.Second

type snapshotEntry struct {
	size int64
}

// Scanner is the Android AttachmentWatcher: it polls baseDir every
// ScanInterval and diffs the fresh listing against the previous one by
// (relative_path, size), reporting new/changed files and ones that
// disappeared.
type Scanner struct {
	baseDir string
	logger  application.Logger

	out chan application.AttachmentWatch

	mu         sync.Mutex
	snapshot   map[string]snapshotEntry
	suppressed map[string]time.Time

	closeOnce sync.Once
	done      chan struct{}
}

var _ application.AttachmentWatcher = (*Scanner)(nil)

// NewScanner starts polling baseDir. The first scan seeds the snapshot
// without emitting anything (nothing has "changed" relative to nothing).
func NewScanner(baseDir string, logger application.Logger) *Scanner {
	s := &Scanner{
		baseDir:    baseDir,
		logger:     logger,
		out:        make(chan application.AttachmentWatch, 16),
		snapshot:   make(map[string]snapshotEntry),
		suppressed: make(map[string]time.Time),
		done:       make(chan struct{}),
	}
	s.scan(true)
	go s.run()
	return s
}

func (s *Scanner) run() {
	ticker := time.NewTicker(ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.scan(false)
		}
	}
}

func (s *Scanner) scan(seedOnly bool) {
	fresh := make(map[string]snapshotEntry)
	_ = filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return nil
		}
		fresh[filepath.ToSlash(rel)] = snapshotEntry{size: info.Size()}
		return nil
	})

	s.mu.Lock()
	prev := s.snapshot
	s.snapshot = fresh
	suppressed := s.suppressed
	s.mu.Unlock()

	if seedOnly {
		return
	}

	now := time.Now()
	for rel, entry := range fresh {
		if old, ok := prev[rel]; ok && old.size == entry.size {
			continue
		}
		if until, ok := suppressed[rel]; ok && now.Before(until) {
			continue
		}
		s.send(application.AttachmentWatch{RelativePath: rel, Deleted: false})
	}
	for rel := range prev {
		if _, stillThere := fresh[rel]; stillThere {
			continue
		}
		if until, ok := suppressed[rel]; ok && now.Before(until) {
			continue
		}
		s.send(application.AttachmentWatch{RelativePath: rel, Deleted: true})
	}
}

func (s *Scanner) send(ev application.AttachmentWatch) {
	select {
	case s.out <- ev:
	case <-s.done:
	}
}

// Watch returns the channel of detected changes.
func (s *Scanner) Watch() <-chan application.AttachmentWatch {
	return s.out
}

// Suppress exempts relativePath from the next scan cycle's diff.
func (s *Scanner) Suppress(relativePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed[filepath.ToSlash(relativePath)] = time.Now().Add(SuppressDuration)
}

// Close stops the polling loop.
func (s *Scanner) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
