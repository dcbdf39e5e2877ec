package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file when it changes and notifies handlers.
// The file is loaded fresh on each change so handlers never see stale data.
// A file that fails to load is reported and the previous configuration stays.
type Watcher struct {
	path     string
	debounce time.Duration
	loader   func(path string) (*Config, error)
	handlers []func(*Config)
	onError  func(error)
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce duration for config changes.
// Default is 1500ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithErrorHandler sets a callback for config load errors.
// If not set, errors are only logged.
func WithErrorHandler(handler func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = handler
	}
}

// WithLoader replaces Load, mainly for tests.
func WithLoader(loader func(path string) (*Config, error)) WatcherOption {
	return func(w *Watcher) {
		w.loader = loader
	}
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		debounce: 1500 * time.Millisecond,
		loader:   Load,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers a handler to be called when config changes.
func (w *Watcher) OnReload(handler func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// ReloadInto registers a handler that swaps every reloaded config into store.
func (w *Watcher) ReloadInto(store *Store) {
	w.OnReload(func(cfg *Config) {
		store.Swap(cfg)
	})
}

// Start begins watching. The parent directory is watched so that editors
// replacing the file are noticed too.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	w.watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.logger.Info("config: watcher started", "path", w.path, "debounce", w.debounce)
	w.wg.Add(1)
	go w.watch(ctx)
	return nil
}

// Stop stops watching and waits for the watch goroutine to exit.
func (w *Watcher) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	w.cancel = nil
	return err
}

func (w *Watcher) watch(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("config: watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("config: file change detected", "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.loadAndNotify()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config: watcher error", "error", err)
		}
	}
}

func (w *Watcher) loadAndNotify() {
	cfg, err := w.loader(w.path)
	if err != nil {
		w.logger.Warn("config: reload failed, keeping previous configuration", "path", w.path, "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.RLock()
	handlers := append([]func(*Config){}, w.handlers...)
	w.mu.RUnlock()

	w.logger.Info("config: reloaded", "path", w.path, "handlers", len(handlers))
	for _, h := range handlers {
		h(cfg)
	}
}
