package guard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Level is the severity of a user-facing notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier surfaces messages to whoever operates the host session.
type Notifier interface {
	Notify(ctx context.Context, message string, level Level)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, message string, level Level)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, message string, level Level) {
	f(ctx, message, level)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Notify logs the message at the matching slog level.
func (n *LogNotifier) Notify(ctx context.Context, message string, level Level) {
	switch level {
	case LevelError:
		n.logger.ErrorContext(ctx, message)
	case LevelWarning:
		n.logger.WarnContext(ctx, message)
	default:
		n.logger.InfoContext(ctx, message)
	}
}

// WriterNotifier prints notifications as plain lines, for terminals.
type WriterNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriterNotifier creates a notifier that writes to out.
func NewWriterNotifier(out io.Writer) *WriterNotifier {
	return &WriterNotifier{out: out}
}

// Notify writes "[level] message".
func (n *WriterNotifier) Notify(_ context.Context, message string, level Level) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.out, "[%s] %s\n", level, message)
}
