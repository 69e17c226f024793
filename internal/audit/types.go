// Package audit records an append-only trail of policy decisions and rule
// changes, separate from the operational log.
package audit

import (
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	// Decision events
	EventCommandAllowed EventType = "command.allowed"
	EventCommandBlocked EventType = "command.blocked"

	// EventRuleChanged records a block, permit or reset command.
	EventRuleChanged EventType = "rule.changed"

	// Session events
	EventSessionStart    EventType = "session.start"
	EventSessionShutdown EventType = "session.shutdown"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a single audit log entry.
type Event struct {
	// ID is a unique identifier for this audit event.
	ID string `json:"id"`

	Type      EventType `json:"type"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`

	// SessionKey identifies the host session.
	SessionKey string `json:"session_key,omitempty"`

	// Entry is the evaluation entry point: tool_call or user_bash.
	Entry string `json:"entry,omitempty"`

	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Action describes what happened.
	Action string `json:"action"`

	// Details contains event-specific structured data.
	Details map[string]any `json:"details,omitempty"`

	// RequestID is the HTTP request that carried the command, if any.
	RequestID string `json:"request_id,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// OutputFormat specifies the audit log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config configures the audit logger.
type Config struct {
	// Enabled determines if audit logging is active.
	Enabled bool

	// Level is the minimum level to log. Blocked commands are logged at
	// warn, everything else at info.
	Level Level

	Format OutputFormat

	// Output specifies where to write events.
	// Supported: "stdout", "stderr", "file:/path/to/audit.log"
	Output string

	// HashCommands replaces command text with a short SHA-256 digest.
	HashCommands bool

	// MaxFieldSize truncates logged commands and reasons.
	MaxFieldSize int

	// EventTypes filters which event types to log (empty = all).
	EventTypes []EventType

	// SampleRate controls what fraction of allowed-command events are logged.
	// Blocked commands and rule changes are always logged.
	SampleRate float64

	// BufferSize is the size of the async write buffer.
	BufferSize int

	// FlushInterval is how often to flush the buffer.
	FlushInterval time.Duration
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Level:         LevelInfo,
		Format:        FormatJSON,
		Output:        "stderr",
		MaxFieldSize:  1024,
		SampleRate:    1.0,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}
