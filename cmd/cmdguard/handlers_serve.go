package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/cmdguard/internal/hooks"
	"github.com/haasonsaas/cmdguard/internal/ratelimit"
	"github.com/haasonsaas/cmdguard/internal/server"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe implements the serve command logic.
// It handles configuration loading, service initialization, and graceful shutdown.
func runServe(cmd *cobra.Command, addr string, debug bool) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := appOptions{
		logOutput: cmd.ErrOrStderr(),
		metrics:   true,
		tracing:   true,
	}
	if debug {
		opts.level = "debug"
	}
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		a.Close(shutdownCtx)
	}()

	if addr == "" {
		addr = a.cfg.Server.Addr()
	}
	a.logger.Info("starting cmdguard",
		"version", version,
		"commit", commit,
		"config", a.configPath,
		"store", a.store.Describe(),
		"addr", addr,
	)

	a.startSession(ctx, "")
	defer func() {
		if err := a.hooks.EmitSession(context.Background(), hooks.EventSessionShutdown, ""); err != nil {
			a.logger.Warn("session.shutdown handler failed", "error", err)
		}
	}()

	if a.cfg.Store.WatchEnabled() {
		watcher, err := a.guard.WatchStore(ctx, a.cfg.Store.WatchDebounce)
		if err != nil {
			a.logger.Warn("rules file watch disabled", "error", err)
		} else if watcher != nil {
			defer watcher.Close()
		}
	}

	serverOpts := server.Options{
		Guard:        a.guard,
		Hooks:        a.hooks,
		Commands:     a.commands,
		Metrics:      a.metrics,
		Tracer:       a.tracer,
		Logger:       a.logger,
		Token:        a.cfg.Server.Token,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
	}
	if rl := a.cfg.Server.RateLimit; rl.Enabled {
		serverOpts.RateLimit = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
		})
	}
	if a.registry != nil {
		serverOpts.Gatherer = a.registry
	}
	srv := server.New(serverOpts)

	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.logger.Info("cmdguard stopped")
	return nil
}
