package guard

import (
	"context"
	"fmt"

	"github.com/haasonsaas/cmdguard/internal/hooks"
	"github.com/haasonsaas/cmdguard/internal/policy"
)

// Policy command names.
const (
	CommandBlockSession     = "block-session"
	CommandPermitSession    = "permit-session"
	CommandBlockPersistent  = "block-persistent"
	CommandPermitPersistent = "permit-persistent"
	CommandResetSession     = "reset-session"
	CommandPolicyStatus     = "policy-status"
)

// Change describes the effect of one block or permit command.
type Change struct {
	Command string           `json:"command"`
	Prefix  string           `json:"prefix"`
	Layer   policy.LayerName `json:"layer"`

	// Added is true when a new rule was inserted.
	Added bool `json:"added"`

	// RemovedOpposite is true when a rule of the other kind for the same
	// prefix was removed from the layer.
	RemovedOpposite bool `json:"removed_opposite"`

	// AlreadyCovered is true when a block was skipped because the remaining
	// persistent block rules already block the prefix.
	AlreadyCovered bool `json:"already_covered"`
}

// Changed reports whether the layer was modified.
func (c Change) Changed() bool {
	return c.Added || c.RemovedOpposite
}

func (c Change) outcome() string {
	switch {
	case c.Added:
		return "added"
	case c.AlreadyCovered:
		return "covered"
	case c.RemovedOpposite:
		return "removed"
	default:
		return "unchanged"
	}
}

// ResetCounts reports how many session rules reset-session cleared.
type ResetCounts struct {
	Blocked   int `json:"blocked"`
	Permitted int `json:"permitted"`
}

// BlockSession adds a block rule to the session sessionKey, dropping a
// session permit for the same prefix.
func (g *Guard) BlockSession(ctx context.Context, sessionKey, raw string) (Change, error) {
	return g.mutate(ctx, CommandBlockSession, sessionKey, raw, func(rule policy.Rule, c *Change) {
		session := g.sessionLocked(sessionKey)
		c.Layer = policy.LayerSession
		c.RemovedOpposite = session.Permit.Remove(rule.Prefix)
		c.Added = session.Block.Add(rule)
	})
}

// PermitSession adds a permit rule to the session sessionKey, dropping a
// session block for the same prefix.
func (g *Guard) PermitSession(ctx context.Context, sessionKey, raw string) (Change, error) {
	return g.mutate(ctx, CommandPermitSession, sessionKey, raw, func(rule policy.Rule, c *Change) {
		session := g.sessionLocked(sessionKey)
		c.Layer = policy.LayerSession
		c.RemovedOpposite = session.Block.Remove(rule.Prefix)
		c.Added = session.Permit.Add(rule)
	})
}

// BlockPersistent removes a persistent permit for the prefix, then adds a
// persistent block unless the remaining block rules already cover it.
// sessionKey only labels the policy.changed event.
func (g *Guard) BlockPersistent(ctx context.Context, sessionKey, raw string) (Change, error) {
	return g.mutate(ctx, CommandBlockPersistent, sessionKey, raw, func(rule policy.Rule, c *Change) {
		c.Layer = policy.LayerPersistent
		c.RemovedOpposite = g.persistent.Permit.Remove(rule.Prefix)
		if g.persistent.Covers(rule.Prefix) {
			c.AlreadyCovered = !g.persistent.Block.Has(rule.Prefix)
			return
		}
		c.Added = g.persistent.Block.Add(rule)
	})
}

// PermitPersistent adds a persistent permit, dropping a persistent block for
// the same prefix.
func (g *Guard) PermitPersistent(ctx context.Context, sessionKey, raw string) (Change, error) {
	return g.mutate(ctx, CommandPermitPersistent, sessionKey, raw, func(rule policy.Rule, c *Change) {
		c.Layer = policy.LayerPersistent
		c.RemovedOpposite = g.persistent.Block.Remove(rule.Prefix)
		c.Added = g.persistent.Permit.Add(rule)
	})
}

// ResetSession clears both rule sets of the session sessionKey.
func (g *Guard) ResetSession(ctx context.Context, sessionKey string) ResetCounts {
	_, span := g.tracer.TracePolicyCommand(ctx, CommandResetSession)
	defer span.End()

	g.mu.Lock()
	var counts ResetCounts
	if session, ok := g.sessions[sessionKey]; ok {
		counts.Blocked = session.Block.Clear()
		counts.Permitted = session.Permit.Clear()
	}
	g.publishCountsLocked()
	g.mu.Unlock()

	g.metrics.RecordMutation(CommandResetSession, "reset")
	g.logger.Info("session rules reset", "session_key", sessionKey, "blocked", counts.Blocked, "permitted", counts.Permitted)
	if counts.Blocked+counts.Permitted > 0 {
		g.emitChanged(ctx, CommandResetSession, sessionKey, "", policy.LayerSession)
	}
	return counts
}

// mutate applies one block or permit command. Persistent changes are saved
// and reverted when the save fails.
func (g *Guard) mutate(ctx context.Context, command, sessionKey, raw string, apply func(policy.Rule, *Change)) (Change, error) {
	ctx, span := g.tracer.TracePolicyCommand(ctx, command)
	defer span.End()

	change := Change{Command: command}
	rule, ok := policy.Compile(raw)
	if !ok {
		g.metrics.RecordMutation(command, "invalid")
		return change, fmt.Errorf("%s: %w", command, ErrInvalidPrefix)
	}
	change.Prefix = rule.Prefix

	g.mu.Lock()
	snapshot := g.persistent.Clone()
	apply(rule, &change)

	if change.Layer == policy.LayerPersistent {
		if err := g.saveLocked(ctx); err != nil {
			g.persistent = snapshot
			g.mu.Unlock()

			g.tracer.RecordError(span, err)
			g.metrics.RecordMutation(command, "error")
			g.logger.Error("persistent rule change reverted", "command", command, "prefix", rule.Prefix, "error", err)
			return Change{Command: command, Prefix: rule.Prefix, Layer: change.Layer}, &SaveError{Op: command, Prefix: rule.Prefix, Err: err}
		}
	}
	g.publishCountsLocked()
	g.mu.Unlock()

	g.metrics.RecordMutation(command, change.outcome())
	g.tracer.SetAttributes(span, "guard.prefix_tokens", rule.TokenCount, "guard.changed", change.Changed())
	g.logger.Info("policy rule updated",
		"command", command,
		"session_key", sessionKey,
		"prefix", rule.Prefix,
		"added", change.Added,
		"removed_opposite", change.RemovedOpposite,
		"already_covered", change.AlreadyCovered)

	if change.Changed() {
		g.emitChanged(ctx, command, sessionKey, rule.Prefix, change.Layer)
	}
	return change, nil
}

// emitChanged fires policy.changed outside the lock so handlers may call back
// into the guard.
func (g *Guard) emitChanged(ctx context.Context, command, sessionKey, prefix string, layer policy.LayerName) {
	if g.hooks == nil {
		return
	}
	event := hooks.NewEvent(hooks.EventPolicyChanged, command).
		WithSession(sessionKey).
		WithPolicyChange(&hooks.PolicyChange{Prefix: prefix, Layer: string(layer)})
	if err := g.hooks.Trigger(ctx, event); err != nil {
		g.logger.Warn("policy.changed handler failed", "command", command, "error", err)
	}
}
