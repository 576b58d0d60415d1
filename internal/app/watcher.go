package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloader receives settled file changes.
type Reloader interface {
	Reload(ctx context.Context, path string) error
	Forget(path string) error
}

// WatcherStats counts watcher activity.
type WatcherStats struct {
	Events   int
	Reloads  int
	Removals int
	Errors   int
}

// Watcher reloads input files when they change on disk. Parent directories are watched
// rather than the files themselves, so editors that save by rename are still seen.
// Rapid saves are coalesced until a file has been quiet for the debounce window.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	target   Reloader
	logger   *zap.Logger
	files    map[string]struct{}
	pending  map[string]time.Time
	debounce time.Duration
	tick     time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	stats    WatcherStats
}

// NewWatcher creates a watcher for paths. A non-positive debounce means 500ms.
func NewWatcher(paths []string, target Reloader, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		target:   target,
		logger:   logger,
		files:    make(map[string]struct{}, len(paths)),
		pending:  make(map[string]time.Time),
		debounce: debounce,
		tick:     debounce / 5,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if w.tick < time.Millisecond {
		w.tick = time.Millisecond
	}
	for _, p := range paths {
		w.files[fileKey(p)] = struct{}{}
	}
	return w, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	dirs := make(map[string]struct{})
	for path := range w.files {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	w.mu.Unlock()

	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			w.watcher.Close()
			return err
		}
		w.logger.Info("watching directory", zap.String("dir", dir))
	}
	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("closing watcher", zap.Error(err))
	}
}

// Done is closed once the event loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}

// Stats returns a copy of the counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	key := fileKey(event.Name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[key]; !ok {
		return
	}
	w.stats.Events++
	w.pending[key] = time.Now()
}

// flush hands settled paths to the target. A path that no longer exists is forgotten.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		_, statErr := os.Stat(path)
		if errors.Is(statErr, os.ErrNotExist) {
			if err := w.target.Forget(path); err != nil {
				w.recordError("forget", path, err)
				continue
			}
			w.mu.Lock()
			w.stats.Removals++
			w.mu.Unlock()
			continue
		}
		if err := w.target.Reload(ctx, path); err != nil {
			w.recordError("reload", path, err)
			continue
		}
		w.mu.Lock()
		w.stats.Reloads++
		w.mu.Unlock()
	}
}

func (w *Watcher) recordError(op, path string, err error) {
	w.logger.Warn("watched file not applied", zap.String("op", op), zap.String("path", path), zap.Error(err))
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}
