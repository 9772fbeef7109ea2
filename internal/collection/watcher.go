package collection

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/cloudsync/internal/cloudsync"
	"github.com/fsnotify/fsnotify"
)

//go:generate mockgen -source=watcher.go -destination=mock_enqueuer_test.go -package=collection

// Enqueuer is the subset of cloudsync.Engine the watcher needs.
type Enqueuer interface {
	Enqueue(c cloudsync.Collection) bool
}

// Watcher monitors the data directory and enqueues an upload when a
// collection file changes. Bursts of writes are debounced into a single
// task per collection.
type Watcher struct {
	store    *Store
	enqueuer Enqueuer
	logger   *slog.Logger

	tick   time.Duration
	settle time.Duration

	// seen holds the hash of the content last handed to the engine.
	seen map[cloudsync.Collection]string
}

// NewWatcher creates a watcher for the store's directory.
func NewWatcher(store *Store, enqueuer Enqueuer, logger *slog.Logger) *Watcher {
	return &Watcher{
		store:    store,
		enqueuer: enqueuer,
		logger:   logger,
		tick:     500 * time.Millisecond,
		settle:   300 * time.Millisecond,
		seen:     make(map[cloudsync.Collection]string),
	}
}

// Watch blocks until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := w.store.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching data dir: %w", err)
	}

	// Content already on disk counts as seen; only later edits trigger.
	for _, c := range cloudsync.Collections {
		if data, err := w.store.ReadCollection(c); err == nil && len(data) > 0 {
			w.seen[c] = ContentHash(data)
		}
	}

	w.logger.Info("collection watcher started", slog.String("dir", dir))

	pending := make(map[cloudsync.Collection]time.Time)
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			c, tracked := collectionFor(event.Name)
			if !tracked {
				continue
			}

			// Atomic replaces show up as Create on the final name.
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[c] = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for c, t := range pending {
				if now.Sub(t) < w.settle {
					continue
				}
				delete(pending, c)
				w.handleChange(c)
			}
		}
	}
}

func (w *Watcher) handleChange(c cloudsync.Collection) {
	data, err := w.store.ReadCollection(c)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("reading collection", slog.String("collection", c.String()), slog.String("error", err.Error()))
		}
		return
	}

	if len(data) == 0 {
		return
	}

	// Skip content we wrote ourselves after a pull, or already queued.
	hash := ContentHash(data)
	if hash == w.store.WrittenHash(c) || hash == w.seen[c] {
		w.seen[c] = hash
		return
	}

	if !w.enqueuer.Enqueue(c) {
		w.logger.Debug("change ignored, collection not syncing", slog.String("collection", c.String()))
		return
	}

	w.seen[c] = hash
	w.logger.Info("local change queued for upload", slog.String("collection", c.String()))
}

func collectionFor(path string) (cloudsync.Collection, bool) {
	switch filepath.Base(path) {
	case RatingsFile:
		return cloudsync.CollectionRatings, true
	case HistoryFile:
		return cloudsync.CollectionHistory, true
	}

	return 0, false
}
