package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/cmdguard/internal/config"
	"github.com/haasonsaas/cmdguard/internal/hooks"
	"github.com/haasonsaas/cmdguard/internal/observability"
)

const hookSource = "audit"

// Logger writes audit events asynchronously through a buffered channel.
// Secrets in commands are masked by the same redaction rules as the
// operational log.
//
// Usage:
//
//	logger, err := audit.NewLogger(audit.Config{
//	    Enabled: true,
//	    Output:  "file:/var/log/cmdguard/audit.log",
//	})
//	defer logger.Close()
//	logger.Install(hookRegistry)
type Logger struct {
	config     Config
	output     io.WriteCloser
	slogger    *slog.Logger
	buffer     chan *Event
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	eventTypes map[EventType]bool
}

// NewLogger creates a new audit logger with the given configuration.
func NewLogger(cfg Config) (*Logger, error) {
	if !cfg.Enabled {
		return &Logger{config: cfg}, nil
	}

	var output io.WriteCloser
	switch {
	case cfg.Output == "stderr" || cfg.Output == "":
		output = os.Stderr
	case cfg.Output == "stdout":
		output = os.Stdout
	case strings.HasPrefix(cfg.Output, "file:"):
		path := config.ExpandHome(strings.TrimPrefix(cfg.Output, "file:"))
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create audit log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", cfg.Output)
	}
	return newLogger(cfg, output), nil
}

func newLogger(cfg Config, output io.WriteCloser) *Logger {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxFieldSize == 0 {
		cfg.MaxFieldSize = 1024
	}
	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}

	eventTypes := make(map[EventType]bool)
	for _, et := range cfg.EventTypes {
		eventTypes[et] = true
	}

	l := &Logger{
		config:     cfg,
		output:     output,
		buffer:     make(chan *Event, cfg.BufferSize),
		done:       make(chan struct{}),
		eventTypes: eventTypes,
	}

	opts := &slog.HandlerOptions{Level: l.slogLevel()}
	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}
	l.slogger = slog.New(observability.NewRedactingHandler(handler)).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Enabled reports whether events are recorded.
func (l *Logger) Enabled() bool {
	return l != nil && l.config.Enabled
}

// Close flushes remaining events and closes the output.
func (l *Logger) Close() error {
	if !l.Enabled() {
		return nil
	}

	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		if l.output != os.Stdout && l.output != os.Stderr {
			err = l.output.Close()
		}
	})
	return err
}

// Log writes an audit event.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if !l.Enabled() {
		return
	}

	if event.Type == EventCommandAllowed && l.config.SampleRate < 1.0 && rand.Float64() > l.config.SampleRate {
		return
	}
	if len(l.eventTypes) > 0 && !l.eventTypes[event.Type] {
		return
	}
	if !l.shouldLog(event.Level) {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.SessionKey == "" {
		event.SessionKey = observability.GetSessionID(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = observability.GetRequestID(ctx)
	}
	if event.TraceID == "" {
		event.TraceID = observability.GetTraceID(ctx)
	}
	if event.SpanID == "" {
		event.SpanID = observability.GetSpanID(ctx)
	}

	select {
	case l.buffer <- event:
	default:
		// Buffer full, log directly (slower but doesn't drop)
		l.writeEvent(event)
	}
}

// Decision is one evaluated command as seen by a host hook.
type Decision struct {
	Entry      string
	SessionKey string
	ToolName   string
	ToolCallID string
	Command    string
	Blocked    bool
	Reason     string
}

// LogDecision records an allowed or blocked command.
func (l *Logger) LogDecision(ctx context.Context, d Decision) {
	if !l.Enabled() {
		return
	}

	eventType, level, action := EventCommandAllowed, LevelInfo, "command_allowed"
	details := map[string]any{}
	if d.Blocked {
		eventType, level, action = EventCommandBlocked, LevelWarn, "command_blocked"
		details["reason"] = l.truncate(d.Reason)
	}
	if l.config.HashCommands {
		details["command_hash"] = hashString(d.Command)
	} else {
		details["command"] = l.truncate(d.Command)
	}

	l.Log(ctx, &Event{
		Type:       eventType,
		Level:      level,
		SessionKey: d.SessionKey,
		Entry:      d.Entry,
		ToolName:   d.ToolName,
		ToolCallID: d.ToolCallID,
		Action:     action,
		Details:    details,
	})
}

// LogRuleChange records a policy command that changed a rule set.
func (l *Logger) LogRuleChange(ctx context.Context, command, prefix, layer, sessionKey string) {
	details := map[string]any{"layer": layer}
	if prefix != "" {
		details["prefix"] = prefix
	}
	l.Log(ctx, &Event{
		Type:       EventRuleChanged,
		Level:      LevelInfo,
		SessionKey: sessionKey,
		Action:     command,
		Details:    details,
	})
}

// LogSession records a session lifecycle event.
func (l *Logger) LogSession(ctx context.Context, eventType EventType, sessionKey string) {
	l.Log(ctx, &Event{
		Type:       eventType,
		Level:      LevelInfo,
		SessionKey: sessionKey,
		Action:     strings.ReplaceAll(string(eventType), ".", "_"),
	})
}

// Install registers lowest-priority hook handlers so decisions are recorded
// after every other handler has had its say.
func (l *Logger) Install(r *hooks.Registry) {
	if !l.Enabled() || r == nil {
		return
	}
	opts := func(name string) []hooks.RegisterOption {
		return []hooks.RegisterOption{
			hooks.WithName("audit." + name),
			hooks.WithSource(hookSource),
			hooks.WithPriority(hooks.PriorityLowest),
		}
	}

	r.On(hooks.EventToolCall, func(ctx context.Context, event *hooks.Event) error {
		call := event.ToolCall
		if call == nil || call.Command == "" {
			return nil
		}
		l.LogDecision(ctx, Decision{
			Entry:      "tool_call",
			SessionKey: event.SessionKey,
			ToolName:   call.ToolName,
			ToolCallID: call.ToolCallID,
			Command:    call.Command,
			Blocked:    call.Block,
			Reason:     call.Reason,
		})
		return nil
	}, opts("tool-call")...)

	r.On(hooks.EventUserBash, func(ctx context.Context, event *hooks.Event) error {
		bash := event.UserBash
		if bash == nil {
			return nil
		}
		d := Decision{Entry: "user_bash", SessionKey: event.SessionKey, Command: bash.Command}
		if bash.Result != nil {
			d.Blocked = true
			d.Reason = bash.Result.Output
		}
		l.LogDecision(ctx, d)
		return nil
	}, opts("user-bash")...)

	r.On(hooks.EventPolicyChanged, func(ctx context.Context, event *hooks.Event) error {
		if change := event.PolicyChange; change != nil {
			l.LogRuleChange(ctx, event.Action, change.Prefix, change.Layer, event.SessionKey)
		}
		return nil
	}, opts("policy-changed")...)

	r.On(hooks.EventSessionStart, func(ctx context.Context, event *hooks.Event) error {
		l.LogSession(ctx, EventSessionStart, event.SessionKey)
		return nil
	}, opts("session-start")...)

	r.On(hooks.EventSessionShutdown, func(ctx context.Context, event *hooks.Event) error {
		l.LogSession(ctx, EventSessionShutdown, event.SessionKey)
		return nil
	}, opts("session-shutdown")...)
}

// writeLoop processes buffered events.
func (l *Logger) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

// flushBuffer drains all buffered events.
func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

// writeEvent writes a single event to the output.
func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}

	if event.SessionKey != "" {
		attrs = append(attrs, "session_key", event.SessionKey)
	}
	if event.Entry != "" {
		attrs = append(attrs, "entry", event.Entry)
	}
	if event.ToolName != "" {
		attrs = append(attrs, "tool_name", event.ToolName)
	}
	if event.ToolCallID != "" {
		attrs = append(attrs, "tool_call_id", event.ToolCallID)
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	if event.TraceID != "" {
		attrs = append(attrs, "trace_id", event.TraceID)
	}
	if event.SpanID != "" {
		attrs = append(attrs, "span_id", event.SpanID)
	}

	// Details become top-level attributes for easier querying.
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}

func (l *Logger) truncate(s string) string {
	if len(s) > l.config.MaxFieldSize {
		return s[:l.config.MaxFieldSize] + "...(truncated)"
	}
	return s
}

// shouldLog checks if an event at the given level should be logged.
func (l *Logger) shouldLog(level Level) bool {
	return slogLevel(level) >= l.slogLevel()
}

func (l *Logger) slogLevel() slog.Level {
	return slogLevel(l.config.Level)
}

// slogLevel maps an audit level onto slog's scale. Unknown levels count as
// info.
func slogLevel(level Level) slog.Level {
	lvl, _ := observability.ParseLogLevel(string(level))
	return lvl
}

// hashString returns the first 16 hex characters of the SHA-256 of s.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
