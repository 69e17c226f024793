package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/cmdguard/internal/commands"
	"github.com/haasonsaas/cmdguard/internal/hooks"
)

const hookSource = "cmdguard"

// Install registers the guard's hook handlers and policy commands. Either
// registry may be nil.
func (g *Guard) Install(hookRegistry *hooks.Registry, commandRegistry *commands.Registry) error {
	if hookRegistry != nil {
		g.installHooks(hookRegistry)
	}
	if commandRegistry != nil {
		if err := g.installCommands(commandRegistry); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guard) installHooks(r *hooks.Registry) {
	r.On(hooks.EventSessionStart, func(ctx context.Context, event *hooks.Event) error {
		g.StartSession(ctx, event.SessionKey)
		return nil
	}, hooks.WithName("cmdguard.session-start"), hooks.WithSource(hookSource), hooks.WithPriority(hooks.PriorityHighest))

	r.On(hooks.EventSessionShutdown, func(ctx context.Context, event *hooks.Event) error {
		g.EndSession(ctx, event.SessionKey)
		return nil
	}, hooks.WithName("cmdguard.session-shutdown"), hooks.WithSource(hookSource), hooks.WithPriority(hooks.PriorityHigh))

	r.On(hooks.EventToolCall, func(ctx context.Context, event *hooks.Event) error {
		if event.ToolCall == nil || event.ToolCall.Command == "" {
			return nil
		}
		if d := g.CheckToolCall(ctx, event.SessionKey, event.ToolCall.Command); !d.Allowed() {
			event.ToolCall.Deny(d.Reason)
		}
		return nil
	}, hooks.WithName("cmdguard.tool-call"), hooks.WithSource(hookSource), hooks.WithPriority(hooks.PriorityHigh))

	r.On(hooks.EventUserBash, func(ctx context.Context, event *hooks.Event) error {
		if event.UserBash == nil || event.UserBash.Result != nil {
			return nil
		}
		event.UserBash.Result = g.CheckUserBash(ctx, event.SessionKey, event.UserBash.Command)
		return nil
	}, hooks.WithName("cmdguard.user-bash"), hooks.WithSource(hookSource), hooks.WithPriority(hooks.PriorityHigh))
}

func (g *Guard) installCommands(r *commands.Registry) error {
	mutations := []struct {
		name        string
		aliases     []string
		description string
		scoped      bool
		run         func(ctx context.Context, sessionKey, raw string) (Change, error)
	}{
		{CommandBlockSession, nil, "Block a command prefix for this session", true, g.BlockSession},
		{CommandPermitSession, nil, "Permit a command prefix for this session", true, g.PermitSession},
		{CommandBlockPersistent, []string{"block"}, "Block a command prefix and save it", false, g.BlockPersistent},
		{CommandPermitPersistent, []string{"permit"}, "Permit a command prefix and save it", false, g.PermitPersistent},
	}

	for _, m := range mutations {
		usage := fmt.Sprintf("/%s <prefix>", m.name)
		err := r.Register(&commands.Command{
			Name:          m.name,
			Aliases:       m.aliases,
			Description:   m.description,
			Usage:         usage,
			AcceptsArgs:   true,
			SessionScoped: m.scoped,
			Category:      commands.CategoryPolicy,
			Source:        hookSource,
			Handler: func(ctx context.Context, inv *commands.Invocation) (*commands.Result, error) {
				change, err := m.run(ctx, inv.SessionKey, inv.Args)
				switch {
				case errors.Is(err, ErrInvalidPrefix):
					return &commands.Result{Error: "Usage: " + usage}, nil
				case err != nil:
					return &commands.Result{Error: err.Error()}, nil
				}
				return &commands.Result{
					Text: DescribeChange(change, g.persistTarget(change)),
					Data: map[string]any{"change": change},
				}, nil
			},
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", m.name, err)
		}
	}

	err := r.Register(&commands.Command{
		Name:          CommandResetSession,
		Description:   "Clear all session block and permit rules",
		Usage:         "/" + CommandResetSession,
		SessionScoped: true,
		Category:      commands.CategoryPolicy,
		Source:        hookSource,
		Handler: func(ctx context.Context, inv *commands.Invocation) (*commands.Result, error) {
			counts := g.ResetSession(ctx, inv.SessionKey)
			return &commands.Result{
				Text: DescribeReset(counts),
				Data: map[string]any{"reset": counts},
			}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", CommandResetSession, err)
	}

	err = r.Register(&commands.Command{
		Name:          CommandPolicyStatus,
		Aliases:       []string{"status", "rules"},
		Description:   "Show all rule sets and how they are resolved",
		Usage:         "/" + CommandPolicyStatus,
		SessionScoped: true,
		Category:      commands.CategoryPolicy,
		Source:        hookSource,
		Handler: func(ctx context.Context, inv *commands.Invocation) (*commands.Result, error) {
			status := g.Status(inv.SessionKey)
			return &commands.Result{
				Text: status.String(),
				Data: map[string]any{"status": status},
			}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", CommandPolicyStatus, err)
	}
	return nil
}

func (g *Guard) persistTarget(c Change) string {
	if !c.Changed() || g.store == nil {
		return ""
	}
	return g.store.Describe()
}
