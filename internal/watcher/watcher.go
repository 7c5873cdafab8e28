// Package watcher feeds filesystem changes into the ingestion pipeline.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/passagehq/passage/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// flushInterval is how often pending write events are checked against the
// debounce window.
const flushInterval = 100 * time.Millisecond

// Sink receives settled file events. The ingest pipeline satisfies it.
type Sink interface {
	IngestFile(ctx context.Context, path string) (*models.IngestResult, error)
	RemoveFile(ctx context.Context, path string) error
}

// Watcher watches configured directories and forwards create/write events to
// the sink after a quiet period, so a file being written in several bursts is
// ingested once. Remove and rename events are forwarded immediately.
type Watcher struct {
	roots     []string
	exts      []string
	recursive bool
	sink      Sink
	debounce  time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the quiet period before a changed file is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher over roots. Files are filtered by extension
// (empty exts allows all). Missing roots are created on Run.
func NewWatcher(roots, exts []string, recursive bool, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		roots:     roots,
		exts:      exts,
		recursive: recursive,
		sink:      sink,
		debounce:  defaultDebounce,
		pending:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run ingests files already present under the roots, then watches for
// changes until ctx is cancelled. It blocks.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	for _, root := range w.roots {
		if err := w.addRoot(root); err != nil {
			return err
		}
	}
	if w.logger != nil {
		w.logger.Info("watching directories",
			zap.Strings("roots", w.roots),
			zap.Strings("extensions", w.exts))
	}
	for _, root := range w.roots {
		w.syncExisting(ctx, root)
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.flushSettled(ctx)
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if err != nil && w.logger != nil {
				w.logger.Warn("watch error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	switch {
	case ev.Op.Has(fsnotify.Create), ev.Op.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.recursive {
				if err := w.addRoot(path); err != nil && w.logger != nil {
					w.logger.Warn("failed to watch new directory", zap.String("path", path), zap.Error(err))
				}
				w.syncExisting(ctx, path)
			}
			return
		}
		if !w.allowed(path) {
			return
		}
		w.mu.Lock()
		w.pending[path] = time.Now()
		w.mu.Unlock()
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if !w.allowed(path) {
			return
		}
		if err := w.sink.RemoveFile(ctx, path); err != nil && w.logger != nil {
			w.logger.Warn("failed to remove file from index", zap.String("path", path), zap.Error(err))
		}
	}
}

// flushSettled ingests pending files whose last event is older than the
// debounce window.
func (w *Watcher) flushSettled(ctx context.Context) {
	now := time.Now()
	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()
	for _, path := range ready {
		w.ingest(ctx, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	if _, err := w.sink.IngestFile(ctx, path); err != nil {
		if w.logger != nil {
			w.logger.Warn("failed to ingest file", zap.String("path", path), zap.Error(err))
		}
		return
	}
	if w.logger != nil {
		w.logger.Debug("ingested changed file", zap.String("path", path))
	}
}

// addRoot registers root (and subdirectories when recursive) with fsnotify,
// creating the directory if it does not exist.
func (w *Watcher) addRoot(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return nil
	}
	if !w.recursive {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

// syncExisting ingests every matching file already under root.
func (w *Watcher) syncExisting(ctx context.Context, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !w.recursive && filepath.Dir(path) != filepath.Clean(root) {
			return nil
		}
		if w.allowed(path) {
			w.ingest(ctx, path)
		}
		return nil
	})
}

func (w *Watcher) allowed(path string) bool {
	if len(w.exts) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, e := range w.exts {
		if strings.ToLower(strings.TrimPrefix(e, ".")) == ext {
			return true
		}
	}
	return false
}
