// Package watch runs a handler for every snapshot file that lands in an
// inbox directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// tickInterval is how often pending files are checked.
	tickInterval = 500 * time.Millisecond

	// settleDelay is how long a file must go without events before it
	// is handed over, so a snapshot still being copied is not read.
	settleDelay = 300 * time.Millisecond

	inboxDirPerm = 0o700
)

// Handler processes one settled snapshot file.
type Handler func(ctx context.Context, path string) error

// Watcher monitors an inbox directory for snapshot files.
type Watcher struct {
	dir    string
	handle Handler
	logger *slog.Logger
}

// NewWatcher creates a watcher for dir. Files already present when Watch
// starts are left alone.
func NewWatcher(dir string, handle Handler, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Watcher{
		dir:    dir,
		handle: handle,
		logger: logger,
	}
}

// Watch blocks until ctx is cancelled. Handler errors are logged and do
// not stop the watcher.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(w.dir, inboxDirPerm); err != nil {
		return fmt.Errorf("creating inbox dir: %w", err)
	}

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching inbox dir: %w", err)
	}

	w.logger.Info("snapshot watcher started", slog.String("dir", w.dir))

	// Debounce: batch rapid writes into a single run per file.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) < settleDelay {
					continue
				}

				delete(pending, path)
				w.run(ctx, path)
			}
		}
	}
}

func (w *Watcher) run(ctx context.Context, path string) {
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return
	}

	w.logger.Info("snapshot received", slog.String("path", path))

	if err := w.handle(ctx, path); err != nil {
		w.logger.Warn("snapshot not processed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// shouldIgnore returns true for anything but visible .json files.
func shouldIgnore(path string) bool {
	name := filepath.Base(path)

	if strings.HasPrefix(name, ".") {
		return true
	}

	return !strings.EqualFold(filepath.Ext(name), ".json")
}
