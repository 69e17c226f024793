// Package server exposes the guard over HTTP so hosts that cannot link Go
// code can consult it before running shell commands.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/cmdguard/internal/commands"
	"github.com/haasonsaas/cmdguard/internal/guard"
	"github.com/haasonsaas/cmdguard/internal/hooks"
	"github.com/haasonsaas/cmdguard/internal/observability"
	"github.com/haasonsaas/cmdguard/internal/ratelimit"
)

const defaultMaxBodyBytes = 64 * 1024

// Options configures a Server.
type Options struct {
	Guard    *guard.Guard
	Hooks    *hooks.Registry
	Commands *commands.Registry

	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	// Token, when non-empty, is required as a bearer token on /v1 routes.
	Token        string
	MaxBodyBytes int64

	// RateLimit throttles /v1 requests per client address when non-nil.
	RateLimit *ratelimit.Limiter
}

// Server serves the cmdguard HTTP API.
type Server struct {
	guard    *guard.Guard
	hooks    *hooks.Registry
	commands *commands.Registry

	metrics  *observability.Metrics
	tracer   *observability.Tracer
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	token        string
	maxBodyBytes int64
	limiter      *ratelimit.Limiter

	httpServer *http.Server
}

// New creates a server. Guard and Hooks are required; the guard must already
// be installed into Hooks and Commands.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Server{
		guard:        opts.Guard,
		hooks:        opts.Hooks,
		commands:     opts.Commands,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
		gatherer:     gatherer,
		logger:       logger.With("component", "http"),
		token:        opts.Token,
		maxBodyBytes: maxBody,
		limiter:      opts.RateLimit,
	}
}

// Handler returns the full middleware-wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/tool-call", s.handleToolCall)
	api.HandleFunc("POST /v1/user-bash", s.handleUserBash)
	api.HandleFunc("POST /v1/explain", s.handleExplain)
	api.HandleFunc("POST /v1/commands/{name}", s.handleCommand)
	api.HandleFunc("POST /v1/session/start", s.handleSessionStart)
	api.HandleFunc("POST /v1/session/end", s.handleSessionEnd)
	api.HandleFunc("GET /v1/status", s.handleStatus)
	mux.Handle("/v1/", s.rateLimitMiddleware(s.authMiddleware(api)))

	return s.requestIDMiddleware(s.observeMiddleware(mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
