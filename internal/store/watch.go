package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher calls a function when a rules file changes on disk. It watches the
// parent directory so atomic rename-based writes are observed.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for path. onChange runs on its own goroutine
// after changes settle for the debounce interval.
func NewWatcher(path string, debounce time.Duration, onChange func(), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		logger:   logger.With("component", "rules-watcher"),
	}
}

// Start begins watching. It is a no-op if already started.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(watchCtx, watcher)
	w.logger.Debug("watching rules file", "path", w.path)
	return nil
}

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			if ctx.Err() != nil {
				return
			}
			w.onChange()
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rules watch error", "error", err)
		}
	}
}
