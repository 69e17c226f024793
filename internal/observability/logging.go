package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"golang.org/x/term"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format is "json", "text" or "auto". Auto picks text when Output is a
	// terminal and json otherwise.
	Format string

	// Output is the writer for log output (defaults to os.Stderr)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool

	// RedactPatterns are additional regex patterns for sensitive data redaction
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"

	// SessionIDKey is the context key for session IDs.
	SessionIDKey ContextKey = "session_id"
)

const redacted = "[REDACTED]"

// DefaultRedactPatterns contains regex patterns for common sensitive data.
var DefaultRedactPatterns = []string{
	// Secret-looking environment assignments, e.g. AWS_SECRET_ACCESS_KEY=...
	`(?i)\b[A-Z0-9_]*(TOKEN|SECRET|PASSWORD|PASSWD|API_?KEY|ACCESS_?KEY|CREDENTIALS?)[A-Z0-9_]*=\S+`,

	// Flags carrying secrets, e.g. --password hunter22 or --token=abc
	`(?i)--(password|passwd|token|secret|api-key)[\s=]+\S+`,

	// API keys and tokens
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,

	// Provider keys
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`gh[pousr]_[A-Za-z0-9]{36,}`,
	`AKIA[0-9A-Z]{16}`,

	// JWT tokens
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// NewLogger creates a structured logger with the given configuration.
//
// If config.Output is nil, logs are written to os.Stderr.
// If config.Level is empty or invalid, defaults to "info".
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	level, _ := ParseLogLevel(config.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if resolveFormat(config.Format, config.Output) == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	return slog.New(NewRedactingHandler(handler, config.RedactPatterns...))
}

func resolveFormat(format string, out io.Writer) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return "json"
	case "text":
		return "text"
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "text"
	}
	return "json"
}

// RedactingHandler masks secrets in messages and string attributes and adds
// request and session IDs found in the context.
type RedactingHandler struct {
	next    slog.Handler
	redacts []*regexp.Regexp
}

// NewRedactingHandler wraps next with the default patterns plus extra ones.
// Patterns that fail to compile are ignored.
func NewRedactingHandler(next slog.Handler, extra ...string) *RedactingHandler {
	patterns := append(append([]string{}, DefaultRedactPatterns...), extra...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}
	return &RedactingHandler{next: next, redacts: redacts}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redactString(record.Message), record.PC)

	if requestID := GetRequestID(ctx); requestID != "" {
		out.AddAttrs(slog.String(string(RequestIDKey), requestID))
	}
	if sessionID := GetSessionID(ctx); sessionID != "" {
		out.AddAttrs(slog.String(string(SessionIDKey), sessionID))
	}

	record.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		clean[i] = h.redactAttr(attr)
	}
	return &RedactingHandler{next: h.next.WithAttrs(clean), redacts: h.redacts}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), redacts: h.redacts}
}

func (h *RedactingHandler) redactAttr(attr slog.Attr) slog.Attr {
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.redactString(value.String()))
	case slog.KindGroup:
		group := value.Group()
		clean := make([]any, len(group))
		for i, a := range group {
			clean[i] = h.redactAttr(a)
		}
		return slog.Group(attr.Key, clean...)
	case slog.KindAny:
		switch v := value.Any().(type) {
		case error:
			return slog.String(attr.Key, h.redactString(v.Error()))
		case []string:
			clean := make([]string, len(v))
			for i, s := range v {
				clean[i] = h.redactString(s)
			}
			return slog.Any(attr.Key, clean)
		}
	}
	return slog.Attr{Key: attr.Key, Value: value}
}

func (h *RedactingHandler) redactString(s string) string {
	for _, re := range h.redacts {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// AddRequestID adds a request ID to the context.
func AddRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// AddSessionID adds a session ID to the context.
func AddSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

// ParseLogLevel maps a level name to a slog.Level. "warning" is accepted as
// an alias for "warn".
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
