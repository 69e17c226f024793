package main

// config.go contains config path resolution and the bootstrap shared by every
// subcommand that consults the guard.

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/cmdguard/internal/audit"
	"github.com/haasonsaas/cmdguard/internal/commands"
	"github.com/haasonsaas/cmdguard/internal/config"
	"github.com/haasonsaas/cmdguard/internal/guard"
	"github.com/haasonsaas/cmdguard/internal/hooks"
	"github.com/haasonsaas/cmdguard/internal/observability"
	"github.com/haasonsaas/cmdguard/internal/profile"
	"github.com/haasonsaas/cmdguard/internal/store"
)

// resolveConfigPath determines the configuration file path based on:
// 1. Explicit --config flag or CMDGUARD_CONFIG
// 2. Active profile (from flag or CMDGUARD_PROFILE env var)
// 3. Default config path
func resolveConfigPath() string {
	return profile.ResolveConfigPath(configPath, profileName)
}

// appOptions tunes the bootstrap per subcommand.
type appOptions struct {
	// notifier receives user-facing storage warnings. Nil logs them.
	notifier guard.Notifier

	// logOutput defaults to stderr.
	logOutput io.Writer

	// level overrides logging.level from the config.
	level string

	// quiet raises an "info" log level to "warn" for one-shot commands.
	quiet bool

	// metrics registers Prometheus collectors on a private registry.
	metrics bool

	// tracing starts the OTLP exporter when the config enables it.
	tracing bool
}

// app is the wired set of components behind a subcommand.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger

	store    store.Store
	guard    *guard.Guard
	hooks    *hooks.Registry
	commands *commands.Registry
	parser   *commands.Parser

	metrics  *observability.Metrics
	registry *prometheus.Registry
	tracer   *observability.Tracer
	audit    *audit.Logger

	shutdownTracer func(context.Context) error
}

// newApp loads config, opens the store and installs the guard into fresh
// hook and command registries. The session is not started.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if opts.level != "" {
		level = opts.level
	}
	if opts.quiet && strings.EqualFold(level, "info") {
		level = "warn"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: opts.logOutput,
	})
	slog.SetDefault(logger)

	a := &app{
		cfg:            cfg,
		configPath:     path,
		logger:         logger,
		shutdownTracer: func(context.Context) error { return nil },
	}

	if opts.metrics && cfg.Observability.MetricsEnabled() {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = observability.NewMetrics(a.registry)
	}

	if opts.tracing && cfg.Observability.Tracing.Enabled {
		tc := cfg.Observability.Tracing
		serviceVersion := tc.ServiceVersion
		if serviceVersion == "" {
			serviceVersion = version
		}
		a.tracer, a.shutdownTracer = observability.NewTracer(observability.TraceConfig{
			ServiceName:    tc.ServiceName,
			ServiceVersion: serviceVersion,
			Environment:    tc.Environment,
			Endpoint:       tc.Endpoint,
			SamplingRate:   tc.SamplingRate,
			Attributes:     tc.Attributes,
			EnableInsecure: tc.Insecure,
		})
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule store: %w", err)
	}
	a.store = st

	a.hooks = hooks.NewRegistry(logger)
	a.commands = commands.NewRegistry(logger)
	commands.RegisterBuiltins(a.commands)
	a.parser = commands.NewParser(a.commands)

	a.guard = guard.New(guard.Options{
		Store:          st,
		Notifier:       opts.notifier,
		Logger:         logger,
		Metrics:        a.metrics,
		Tracer:         a.tracer,
		DefaultBlocked: cfg.Policy.DefaultBlocked,
		Hooks:          a.hooks,
	})
	if err := a.guard.Install(a.hooks, a.commands); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to install guard: %w", err)
	}

	a.audit, err = audit.NewLogger(auditConfig(cfg.Audit))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	a.audit.Install(a.hooks)

	logger.Debug("cmdguard initialized",
		"config", path,
		"store", st.Describe(),
		"default_blocked", cfg.Policy.DefaultBlocked,
		"hooks", a.hooks.Describe(),
	)
	return a, nil
}

// startSession fires session.start, which loads the persistent rules.
func (a *app) startSession(ctx context.Context, sessionKey string) {
	if err := a.hooks.EmitSession(ctx, hooks.EventSessionStart, sessionKey); err != nil {
		a.logger.Warn("session.start handler failed", "error", err)
	}
}

// Close releases the store and flushes traces and audit events.
func (a *app) Close(ctx context.Context) {
	if err := a.audit.Close(); err != nil {
		a.logger.Warn("failed to close audit log", "error", err)
	}
	if err := a.shutdownTracer(ctx); err != nil {
		a.logger.Warn("tracer shutdown failed", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close rule store", "error", err)
	}
}

func auditConfig(c config.AuditConfig) audit.Config {
	types := make([]audit.EventType, 0, len(c.EventTypes))
	for _, t := range c.EventTypes {
		types = append(types, audit.EventType(t))
	}
	return audit.Config{
		Enabled:       c.Enabled,
		Level:         audit.Level(strings.ToLower(c.Level)),
		Format:        audit.OutputFormat(c.Format),
		Output:        c.Output,
		HashCommands:  c.HashCommands,
		MaxFieldSize:  c.MaxFieldSize,
		EventTypes:    types,
		SampleRate:    c.SampleRate,
		BufferSize:    c.BufferSize,
		FlushInterval: c.FlushInterval,
	}
}
