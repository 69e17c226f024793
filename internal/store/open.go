package store

import (
	"context"
	"fmt"

	"github.com/haasonsaas/cmdguard/internal/config"
)

// Open returns the store selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", config.BackendFile:
		return NewFileStore(cfg.Path), nil
	case config.BackendSQLite:
		s, err := OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		s, err := OpenPostgres(ctx, cfg.DSN, cfg.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
