// Package observability provides the process logger, Prometheus metrics and
// OpenTelemetry tracing used across cmdguard.
//
// Loggers are plain *slog.Logger values. NewLogger wraps the chosen slog
// handler with redaction so credentials that appear in evaluated commands
// (GITHUB_TOKEN=..., --password ...) never reach log output.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "auto"})
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{ServiceName: "cmdguard"})
//	defer shutdown(context.Background())
package observability
