package guard

import (
	"context"
	"time"

	"github.com/haasonsaas/cmdguard/internal/store"
)

// WatchStore reloads the persistent rules whenever the backing rules file
// changes. It returns nil without error when the store is not file based.
func (g *Guard) WatchStore(ctx context.Context, debounce time.Duration) (*store.Watcher, error) {
	fs, ok := g.store.(*store.FileStore)
	if !ok {
		return nil, nil
	}

	w := store.NewWatcher(fs.Path(), debounce, func() {
		if err := g.ReloadPersistent(ctx); err != nil {
			g.logger.Warn("rules reload failed", "path", fs.Path(), "error", err)
			return
		}
		g.logger.Info("rules reloaded from disk", "path", fs.Path())
	}, g.logger)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
