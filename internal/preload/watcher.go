package preload

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"ewmsearch/internal/debounce"
)

// Watcher reloads the preload file after it is written or replaced. Bursts of
// events are coalesced into one reload.
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	reload   *debounce.Debouncer[string]
	logger   *zap.Logger
	onReload func(n int, err error)
}

// NewWatcher watches the directory holding the loader's file, since editors
// often replace files instead of writing them in place. onReload, when
// non-nil, is called after every reload attempt.
func NewWatcher(loader *Loader, quiet time.Duration, logger *zap.Logger, onReload func(n int, err error)) (*Watcher, error) {
	if loader.Path() == "" {
		return nil, ErrNotConfigured
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{loader: loader, watcher: fsw, logger: logger, onReload: onReload}
	w.reload = debounce.New(quiet, w.apply)

	dir := filepath.Dir(loader.Path())
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return w, nil
}

// Run processes events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	target := filepath.Clean(w.loader.Path())
	w.logger.Info("watching preload file", zap.String("path", target))
	for {
		select {
		case <-ctx.Done():
			w.reload.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload.Call(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) apply(path string) {
	ds, err := w.loader.Load(context.Background())
	n := 0
	if err != nil {
		w.logger.Error("preload reload failed", zap.String("path", path), zap.Error(err))
	} else {
		n = ds.Len()
		w.logger.Info("preload reloaded", zap.String("path", path), zap.Int("rows", n))
	}
	if w.onReload != nil {
		w.onReload(n, err)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.reload.Stop()
	return w.watcher.Close()
}
