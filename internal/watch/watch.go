// Package watch feeds debounced file-system change events into incremental
// reindexing. All roots share one pending set and one debounce timer: a
// burst of changes collapses into a single flush, and each changed path is
// handed over exactly once per flush.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/kestrelab/annex/internal/index"
)

// Debounce is the quiet period after the last event before a flush.
const Debounce = 5 * time.Second

// Watcher watches indexed roots recursively and invokes onFlush with the
// coalesced set of changed paths once the debounce window closes.
type Watcher struct {
	fs       *fsnotify.Watcher
	onFlush  func(paths []string)
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	closed  bool

	done chan struct{}
}

// New starts the event loop. onFlush runs on the watcher's goroutine.
func New(onFlush func(paths []string)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:       fs,
		onFlush:  onFlush,
		debounce: Debounce,
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// AddRoot registers a root and all of its non-excluded subdirectories.
// fsnotify watches are per-directory, so recursion is walked explicitly; new
// directories are picked up from create events.
func (w *Watcher) AddRoot(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && index.ExcludedDir(d.Name()) {
			return filepath.SkipDir
		}
		if werr := w.fs.Add(path); werr != nil {
			log.Warn().Err(werr).Str("dir", path).Msg("watch failed")
		}
		return nil
	})
}

// RemoveRoot stops watching a root; pending events for it may still flush.
func (w *Watcher) RemoveRoot(root string) {
	list := w.fs.WatchList()
	for _, dir := range list {
		if dir == root || strings.HasPrefix(dir, root+string(filepath.Separator)) {
			_ = w.fs.Remove(dir)
		}
	}
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// New directories join the watch so recursion keeps up.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !index.ExcludedDir(filepath.Base(ev.Name)) {
				_ = w.fs.Add(ev.Name)
			}
			return
		}
	}
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	if inExcludedDir(ev.Name) {
		return
	}
	// Removed files cannot be stat'ed; let the reindex decide, but only for
	// paths that could ever have been indexed.
	if !index.Indexable(ev.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending[ev.Name] = struct{}{}
	// One shared timer, re-armed on every event: the burst settles before
	// any work starts.
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.flush)
	} else {
		w.timer.Reset(w.debounce)
	}
}

// Requeue returns paths to the pending set and re-arms the debounce timer,
// for batches the consumer could not take yet.
func (w *Watcher) Requeue(paths []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	for _, p := range paths {
		w.pending[p] = struct{}{}
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.flush)
	} else {
		w.timer.Reset(w.debounce)
	}
}

// flush drains the pending set and hands it over in one batch.
func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 || w.closed {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	w.onFlush(paths)
}

// Close stops watching and drops pending events.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fs.Close()
	<-w.done
	return err
}

func inExcludedDir(path string) bool {
	for _, name := range splitPath(filepath.Dir(path)) {
		if index.ExcludedDir(name) {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	var parts []string
	for {
		dir, file := filepath.Split(filepath.Clean(path))
		if file != "" {
			parts = append(parts, file)
		}
		if dir == "" || dir == path {
			break
		}
		path = filepath.Clean(dir)
		if path == "/" || path == "." {
			break
		}
	}
	return parts
}
