// Package watch adapts fsnotify to the reconciler's tick stream. It watches
// a root directory recursively and reports raw per-path notifications with
// no de-duplication; making sense of the noise is the reconciler's job.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wix/kiss-fs/internal/reconcile"
)

// Watcher translates fsnotify events under a root into ticks.
type Watcher struct {
	root string
	fsw  *fsnotify.Watcher
	sink func(reconcile.Tick)
	log  *zap.Logger

	mu   sync.Mutex
	dirs map[string]struct{} // relative paths known to be directories

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for root delivering ticks to sink. Call Start to
// begin watching.
func New(root string, sink func(reconcile.Tick), logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		root: root,
		fsw:  fsw,
		sink: sink,
		log:  logger,
		dirs: make(map[string]struct{}),
		done: make(chan struct{}),
	}, nil
}

// Start registers the existing directory tree and begins delivering ticks.
func (w *Watcher) Start() error {
	err := filepath.Walk(w.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if info.IsDir() {
			if addErr := w.fsw.Add(p); addErr != nil {
				w.log.Warn("cannot watch directory", zap.String("path", p), zap.Error(addErr))
				return nil
			}
			w.markDir(w.rel(p))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", w.root, err)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Close stops watching. No ticks are delivered after Close returns.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

// TempPrefix marks in-flight atomic-write artifacts. Entries with this
// prefix never produce ticks.
const TempPrefix = ".kissfs-"

func (w *Watcher) handle(ev fsnotify.Event) {
	rel := w.rel(ev.Name)
	if rel == "" || rel == "." {
		return
	}
	if strings.HasPrefix(filepath.Base(ev.Name), TempPrefix) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			// Gone already; the remove event will follow.
			return
		}
		if info.IsDir() {
			w.addDir(ev.Name, rel)
		} else {
			w.emit(reconcile.TickAdded, rel)
		}
	case ev.Op.Has(fsnotify.Write):
		if !w.isDir(rel) {
			w.emit(reconcile.TickChanged, rel)
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		if w.isDir(rel) {
			w.unmarkDir(rel)
			w.emit(reconcile.TickDirUnlinked, rel)
		} else {
			w.emit(reconcile.TickUnlinked, rel)
		}
	}
}

// addDir watches a newly created directory and reports everything already
// inside it: entries created before the watch took effect produce no
// events of their own.
func (w *Watcher) addDir(abs, rel string) {
	if err := w.fsw.Add(abs); err != nil {
		w.log.Warn("cannot watch new directory", zap.String("path", abs), zap.Error(err))
	}
	w.markDir(rel)
	w.emit(reconcile.TickDirAdded, rel)

	entries, err := os.ReadDir(abs)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), TempPrefix) {
			continue
		}
		childAbs := filepath.Join(abs, entry.Name())
		childRel := w.rel(childAbs)
		if entry.IsDir() {
			w.addDir(childAbs, childRel)
		} else {
			w.emit(reconcile.TickAdded, childRel)
		}
	}
}

func (w *Watcher) emit(kind, rel string) {
	select {
	case <-w.done:
		return
	default:
	}
	w.sink(reconcile.Tick{Kind: kind, Path: rel})
}

func (w *Watcher) rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return ""
	}
	if rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) markDir(rel string) {
	if rel == "" {
		return
	}
	w.mu.Lock()
	w.dirs[rel] = struct{}{}
	w.mu.Unlock()
}

func (w *Watcher) unmarkDir(rel string) {
	w.mu.Lock()
	delete(w.dirs, rel)
	prefix := rel + "/"
	for p := range w.dirs {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			delete(w.dirs, p)
		}
	}
	w.mu.Unlock()
}

func (w *Watcher) isDir(rel string) bool {
	w.mu.Lock()
	_, ok := w.dirs[rel]
	w.mu.Unlock()
	return ok
}
