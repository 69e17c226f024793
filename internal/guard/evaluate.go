package guard

import (
	"context"

	"github.com/haasonsaas/cmdguard/internal/hooks"
	"github.com/haasonsaas/cmdguard/internal/policy"
)

// Evaluation entry point names, used as metric and span labels.
const (
	EntryToolCall = "tool_call"
	EntryUserBash = "user_bash"
	EntryCheck    = "check"
)

// Decision is the outcome of evaluating one command string.
type Decision struct {
	Command string                     `json:"-"`
	Blocked []policy.BlockedInvocation `json:"blocked,omitempty"`

	// Reason is empty when the command is allowed.
	Reason string `json:"reason,omitempty"`
}

// Allowed reports whether the command may run.
func (d Decision) Allowed() bool {
	return len(d.Blocked) == 0
}

// Evaluate decides a command against the persistent rules and the session
// rules of sessionKey.
func (g *Guard) Evaluate(ctx context.Context, sessionKey, entry, command string) Decision {
	_, span := g.tracer.TraceEvaluation(ctx, entry)
	defer span.End()

	g.mu.Lock()
	blocked := g.stateLocked(sessionKey).Evaluate(command)
	g.mu.Unlock()

	d := Decision{Command: command, Blocked: blocked}
	verdict := "allowed"
	if !d.Allowed() {
		verdict = "blocked"
		d.Reason = BlockReason(blocked)
		for _, b := range blocked {
			g.metrics.RecordBlockedSegment(string(b.Layer))
		}
		g.logger.Info("command blocked", "entry", entry, "session_key", sessionKey, "command", command, "blocked_segments", len(blocked))
	} else {
		g.logger.Debug("command allowed", "entry", entry, "session_key", sessionKey, "command", command)
	}
	g.metrics.RecordEvaluation(entry, verdict)
	g.tracer.SetAttributes(span, "guard.verdict", verdict, "guard.blocked_segments", len(blocked))
	return d
}

// CheckToolCall is the pre-execution entry point for agent tool calls.
func (g *Guard) CheckToolCall(ctx context.Context, sessionKey, command string) Decision {
	return g.Evaluate(ctx, sessionKey, EntryToolCall, command)
}

// CheckUserBash is the entry point for commands the user runs directly. A
// non-nil result replaces the execution.
func (g *Guard) CheckUserBash(ctx context.Context, sessionKey, command string) *hooks.ExecResult {
	d := g.Evaluate(ctx, sessionKey, EntryUserBash, command)
	if d.Allowed() {
		return nil
	}
	return &hooks.ExecResult{
		Output:    d.Reason,
		ExitCode:  1,
		Cancelled: false,
		Truncated: false,
	}
}

// Explain returns the per-segment resolution trace for a command.
func (g *Guard) Explain(ctx context.Context, sessionKey, command string) []policy.SegmentDecision {
	_, span := g.tracer.TraceEvaluation(ctx, "explain")
	defer span.End()

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(sessionKey).Explain(command)
}
