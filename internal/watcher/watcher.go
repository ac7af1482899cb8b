// Package watcher monitors a books directory and reports new or
// changed book files so they can be indexed without an explicit
// command.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/libris-dev/libris/internal/extract"
)

// DefaultDebounce is how long a path must stay quiet before it is
// reported. Copies in progress fire many write events; the debounce
// waits for the last one.
const DefaultDebounce = 2 * time.Second

// Handler receives settled book file paths.
type Handler func(paths []string)

// Watcher watches one directory (non-recursive) for book files.
type Watcher struct {
	dir      string
	debounce time.Duration
	registry *extract.Registry
	handler  Handler
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// New creates a watcher for dir that invokes handler with batches of
// settled paths.
func New(dir string, debounce time.Duration, handler Handler, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		registry: extract.NewRegistry(),
		handler:  handler,
		logger:   logger,
		pending:  make(map[string]time.Time),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.logger.Info("watch_started", slog.String("dir", w.dir))

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !w.registry.Supported(event.Name) {
				continue
			}
			w.mu.Lock()
			w.pending[event.Name] = time.Now()
			w.mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))

		case <-ticker.C:
			w.flushSettled()
		}
	}
}

// flushSettled hands over paths whose last event is older than the
// debounce window.
func (w *Watcher) flushSettled() {
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

	if len(ready) > 0 {
		w.logger.Debug("watch_paths_settled", slog.Int("count", len(ready)))
		w.handler(ready)
	}
}
