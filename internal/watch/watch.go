// Package watch turns file-system events under the workspace root into
// change notifications for the coordinator.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/storage"
)

// DefaultDebounce is the quiet period before dirty paths are flushed.
const DefaultDebounce = 100 * time.Millisecond

// Sink receives document changes. *coordinator.Coordinator satisfies it.
type Sink interface {
	Notify(docID string, text []byte)
	NotifyRemoved(docID string)
	NotifyFailure(docID string, err error)
}

// Watcher forwards debounced file changes from a storage root to a Sink.
type Watcher struct {
	store    storage.Provider
	sink     Sink
	known    func() []string
	debounce time.Duration
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a burst of events is flushed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithKnown supplies the currently indexed document ids. Renames trigger a
// reconciliation pass against them.
func WithKnown(fn func() []string) Option {
	return func(w *Watcher) { w.known = fn }
}

// New creates a Watcher.
func New(store storage.Provider, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		store:    store,
		sink:     sink,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes file change events until ctx is cancelled.
//
// New directories created at runtime are added to the watch list. Every
// event marks its path dirty; after the debounce period each dirty path is
// re-read and forwarded as an update, a removal or a failure. Rename events
// additionally schedule a reconciliation pass.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	root := w.store.Root()
	if err := addDirsRecursive(fw, root); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", root))

	dirty := make(map[string]struct{})
	reconcile := false

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			w.flush(dirty)
			clear(dirty)
			if reconcile {
				w.reconcile()
				reconcile = false
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if hidden(filepath.Base(absPath)) {
						continue
					}
					if addErr := addDirsRecursive(fw, absPath); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						w.logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					// Files may land before the directory is watched.
					w.collectDir(absPath, dirty)
					schedule()
					continue
				}
			}

			rel, ok := w.docID(absPath)
			if !ok {
				continue
			}
			dirty[rel] = struct{}{}
			if ev.Op&fsnotify.Rename != 0 {
				reconcile = true
			}
			schedule()

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// docID maps an absolute path to a document id when it is a document file.
func (w *Watcher) docID(absPath string) (string, bool) {
	rel, err := filepath.Rel(w.store.Root(), absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	return rel, w.store.Match(rel)
}

// flush re-reads every dirty path in sorted order and notifies the sink.
func (w *Watcher) flush(dirty map[string]struct{}) {
	paths := make([]string, 0, len(dirty))
	for p := range dirty {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		w.forward(p)
	}
}

func (w *Watcher) forward(docID string) {
	data, err := w.store.Read(docID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		w.logger.Debug("watcher: removed", slog.String("path", docID))
		w.sink.NotifyRemoved(docID)
	case err != nil:
		w.logger.Warn("watcher: read failed", slog.String("path", docID), slog.String("error", err.Error()))
		w.sink.NotifyFailure(docID, err)
	default:
		w.logger.Debug("watcher: changed", slog.String("path", docID))
		w.sink.Notify(docID, data)
	}
}

// reconcile removes known documents that are gone from disk and forwards
// on-disk documents that are not known yet.
func (w *Watcher) reconcile() {
	if w.known == nil {
		return
	}
	metas, err := w.store.List("")
	if err != nil {
		w.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}
	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}
	}
	known := make(map[string]struct{})
	for _, id := range w.known() {
		known[id] = struct{}{}
		if _, ok := disk[id]; !ok {
			w.logger.Debug("reconcile: removed stale", slog.String("path", id))
			w.sink.NotifyRemoved(id)
		}
	}
	for _, m := range metas {
		if _, ok := known[m.Path]; !ok {
			w.forward(m.Path)
		}
	}
}

// collectDir marks every document file under dir dirty.
func (w *Watcher) collectDir(dir string, dirty map[string]struct{}) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, ok := w.docID(p); ok {
			dirty[rel] = struct{}{}
		}
		return nil
	})
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
