// Package hooks provides the event system a host uses to consult cmdguard:
// session lifecycle, tool calls and user-typed shell commands.
package hooks

import (
	"context"
	"time"
)

// EventType identifies the category of hook event.
type EventType string

const (
	// Session events
	EventSessionStart    EventType = "session.start"
	EventSessionShutdown EventType = "session.shutdown"

	// EventToolCall fires before an agent tool call runs. Handlers may set
	// ToolCall.Block to stop it.
	EventToolCall EventType = "tool.call"

	// EventUserBash fires before a user-typed shell command runs. Handlers may
	// set UserBash.Result to replace execution with a synthetic result.
	EventUserBash EventType = "user.bash"

	// EventPolicyChanged fires after a rule set changes.
	EventPolicyChanged EventType = "policy.changed"
)

// ToolCall is the payload of EventToolCall.
type ToolCall struct {
	ToolName   string `json:"toolName,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`

	// Command is the shell command the tool is about to run.
	Command string `json:"command"`

	Block  bool   `json:"block"`
	Reason string `json:"reason,omitempty"`
}

// Deny marks the call blocked. Reasons from several handlers are joined.
func (c *ToolCall) Deny(reason string) {
	if c.Block && c.Reason != "" && reason != "" {
		c.Reason += "\n" + reason
	} else if reason != "" {
		c.Reason = reason
	}
	c.Block = true
}

// ExecResult is a shell execution outcome.
type ExecResult struct {
	Output    string `json:"output"`
	ExitCode  int    `json:"exitCode"`
	Cancelled bool   `json:"cancelled"`
	Truncated bool   `json:"truncated"`
}

// UserBash is the payload of EventUserBash.
type UserBash struct {
	Command string `json:"command"`

	// Result, when set by a handler, is returned instead of running Command.
	Result *ExecResult `json:"result,omitempty"`
}

// PolicyChange is the payload of EventPolicyChanged.
type PolicyChange struct {
	Prefix string `json:"prefix"`

	// Layer is "session" or "persistent".
	Layer string `json:"layer"`
}

// Event is one hook dispatch. Exactly one payload field is set for the
// payload-carrying event types.
type Event struct {
	Type EventType `json:"type"`

	// Action narrows the type: the tool name for tool.call and the policy
	// command name for policy.changed.
	Action string `json:"action,omitempty"`

	SessionKey string    `json:"session_key,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	ToolCall     *ToolCall     `json:"tool_call,omitempty"`
	UserBash     *UserBash     `json:"user_bash,omitempty"`
	PolicyChange *PolicyChange `json:"policy_change,omitempty"`
}

// Handler is a function that processes hook events.
// Handlers should be fast and non-blocking.
type Handler func(ctx context.Context, event *Event) error

// Priority determines the order handlers are called.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration is a handler bound to an event key ("tool.call" or
// "tool.call:bash").
type Registration struct {
	ID       string
	EventKey string
	Handler  Handler

	// Priority orders handlers, lowest first.
	Priority Priority

	Name   string
	Source string
}

// NewEvent creates a new event with timestamp set.
func NewEvent(eventType EventType, action string) *Event {
	return &Event{
		Type:      eventType,
		Action:    action,
		Timestamp: time.Now(),
	}
}

// WithSession sets the session key on the event.
func (e *Event) WithSession(sessionKey string) *Event {
	e.SessionKey = sessionKey
	return e
}

// WithToolCall attaches a tool call payload.
func (e *Event) WithToolCall(call *ToolCall) *Event {
	e.ToolCall = call
	return e
}

// WithUserBash attaches a user shell command payload.
func (e *Event) WithUserBash(bash *UserBash) *Event {
	e.UserBash = bash
	return e
}

// WithPolicyChange attaches a rule change payload.
func (e *Event) WithPolicyChange(change *PolicyChange) *Event {
	e.PolicyChange = change
	return e
}
