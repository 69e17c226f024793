package hooks

import (
	"context"
	"fmt"
)

// DispatchToolCall runs the tool.call handlers. The action is the tool name,
// so handlers registered for "tool.call:<tool>" also run. Handler errors are
// returned but never clear a block decision.
func (r *Registry) DispatchToolCall(ctx context.Context, sessionKey string, call *ToolCall) (*ToolCall, error) {
	if call == nil {
		return nil, fmt.Errorf("tool call is nil")
	}
	event := NewEvent(EventToolCall, call.ToolName).
		WithSession(sessionKey).
		WithToolCall(call)
	err := r.Trigger(ctx, event)
	return call, err
}

// DispatchUserBash runs the user.bash handlers for a command the user asked
// to execute directly. A non-nil Result means execution must be skipped.
func (r *Registry) DispatchUserBash(ctx context.Context, sessionKey, command string) (*UserBash, error) {
	bash := &UserBash{Command: command}
	event := NewEvent(EventUserBash, "").
		WithSession(sessionKey).
		WithUserBash(bash)
	err := r.Trigger(ctx, event)
	return bash, err
}

// EmitSession triggers a session lifecycle event.
func (r *Registry) EmitSession(ctx context.Context, eventType EventType, sessionKey string) error {
	switch eventType {
	case EventSessionStart, EventSessionShutdown:
	default:
		return fmt.Errorf("%s is not a session event", eventType)
	}
	return r.Trigger(ctx, NewEvent(eventType, "").WithSession(sessionKey))
}
