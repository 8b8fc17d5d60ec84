package attachment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tiddlysync/application"
)

// DebounceInterval coalesces the burst of fsnotify events a single save
// produces (write, chmod, sometimes a rename-based atomic replace) into
// one AttachmentWatch per path (spec.md section 4.5).
const DebounceInterval = 500 * time.Millisecond

// SuppressDuration is how long a path we just wrote from an incoming
// sync is exempt from re-triggering its own watcher event.
const SuppressDuration = 5 * time.Second

// Watcher is the desktop AttachmentWatcher, backed by fsnotify watching
// baseDir and every subdirectory, the same directory-level watch (not
// file-level) the teacher's ConfigWatcher uses so atomic
// write-then-rename saves are never silently missed.
type Watcher struct {
	baseDir string
	logger  application.Logger
	fs      *fsnotify.Watcher

	out chan application.AttachmentWatch

	mu         sync.Mutex
	debounce   map[string]*time.Timer
	suppressed map[string]time.Time

	closeOnce sync.Once
	done      chan struct{}
}

var _ application.AttachmentWatcher = (*Watcher)(nil)

// NewWatcher starts watching baseDir (recursively) for attachment
// changes.
func NewWatcher(baseDir string, logger application.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("attachment: create watcher: %w", err)
	}

	w := &Watcher{
		baseDir:    baseDir,
		logger:     logger,
		fs:         fs,
		out:        make(chan application.AttachmentWatch, 16),
		debounce:   make(map[string]*time.Timer),
		suppressed: make(map[string]time.Time),
		done:       make(chan struct{}),
	}

	if err := w.addTree(baseDir); err != nil {
		_ = fs.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than abort the whole watch
		}
		if d.IsDir() {
			if err := w.fs.Add(path); err != nil {
				w.logger.Printf("attachment: watch %s: %v", path, err)
			}
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Printf("attachment: watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			_ = w.addTree(event.Name)
		}
		return
	}

	rel, err := filepath.Rel(w.baseDir, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	w.mu.Lock()
	if until, ok := w.suppressed[rel]; ok {
		if time.Now().Before(until) {
			w.mu.Unlock()
			return
		}
		delete(w.suppressed, rel)
	}
	if t, ok := w.debounce[rel]; ok {
		t.Stop()
	}
	w.debounce[rel] = time.AfterFunc(DebounceInterval, func() { w.emit(rel) })
	w.mu.Unlock()
}

func (w *Watcher) emit(rel string) {
	w.mu.Lock()
	delete(w.debounce, rel)
	w.mu.Unlock()

	_, err := os.Stat(filepath.Join(w.baseDir, filepath.FromSlash(rel)))
	deleted := os.IsNotExist(err)

	select {
	case w.out <- application.AttachmentWatch{RelativePath: rel, Deleted: deleted}:
	case <-w.done:
	}
}

// Watch returns the channel of debounced, suppression-filtered changes.
func (w *Watcher) Watch() <-chan application.AttachmentWatch {
	return w.out
}

// Suppress exempts relativePath from the next SuppressDuration worth of
// watcher events, so a file we just wrote from an incoming sync doesn't
// immediately loop back out as a local change.
func (w *Watcher) Suppress(relativePath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suppressed[filepath.ToSlash(relativePath)] = time.Now().Add(SuppressDuration)
}

// Close stops the underlying fsnotify watcher and the event loop.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.fs.Close()
}
