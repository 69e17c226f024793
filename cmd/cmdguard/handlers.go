package main

// handlers.go contains the RunE handler functions for the policy, hook and
// config commands.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/cmdguard/internal/commands"
	"github.com/haasonsaas/cmdguard/internal/config"
	"github.com/haasonsaas/cmdguard/internal/guard"
	"github.com/haasonsaas/cmdguard/internal/hooks"
	"github.com/haasonsaas/cmdguard/internal/server"
)

// exitBlocked is the exit status of "check" for a blocked command.
const exitBlocked = 2

// openOneShot bootstraps the guard for a single CLI invocation and starts its
// session. Storage warnings go to stderr.
func openOneShot(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{
		notifier:  guard.NewWriterNotifier(cmd.ErrOrStderr()),
		logOutput: cmd.ErrOrStderr(),
		quiet:     true,
	})
	if err != nil {
		return nil, err
	}
	a.startSession(ctx, "")
	return a, nil
}

// =============================================================================
// Policy Command Handlers
// =============================================================================

// runCheck handles the check command.
func runCheck(cmd *cobra.Command, command string, asJSON bool) error {
	a, err := openOneShot(cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	d := a.guard.Evaluate(cmd.Context(), "", guard.EntryCheck, command)
	out := cmd.OutOrStdout()
	if asJSON {
		if err := writeJSON(out, map[string]any{
			"command": command,
			"allowed": d.Allowed(),
			"blocked": d.Blocked,
			"reason":  d.Reason,
		}); err != nil {
			return err
		}
	} else if d.Allowed() {
		fmt.Fprintf(out, "allowed: %s\n", command)
	} else {
		fmt.Fprintln(out, d.Reason)
	}

	if !d.Allowed() {
		return &exitError{code: exitBlocked}
	}
	return nil
}

// runExplain handles the explain command.
func runExplain(cmd *cobra.Command, command string, asJSON bool) error {
	a, err := openOneShot(cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	segments := a.guard.Explain(cmd.Context(), "", command)
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), segments)
	}
	fmt.Fprint(cmd.OutOrStdout(), guard.FormatExplain(segments))
	return nil
}

// runPolicyCommand executes a registered policy command the way a host would.
func runPolicyCommand(cmd *cobra.Command, name, args string) error {
	a, err := openOneShot(cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	result, err := a.commands.Execute(cmd.Context(), &commands.Invocation{
		Name:    name,
		Args:    args,
		RawText: strings.TrimSpace("/" + name + " " + args),
	})
	if err != nil {
		return err
	}
	if result.Error != "" {
		return errors.New(result.Error)
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Text)
	return nil
}

// runRules handles the rules command.
func runRules(cmd *cobra.Command, asJSON bool) error {
	a, err := openOneShot(cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	status := a.guard.Status("")
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), status)
	}
	fmt.Fprint(cmd.OutOrStdout(), status.String())
	return nil
}

// =============================================================================
// Hook Command Handlers
// =============================================================================

// runHookPreTool handles the hook pre-tool command.
func runHookPreTool(cmd *cobra.Command) error {
	var req server.ToolCallRequest
	if err := readJSON(cmd.InOrStdin(), &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Command) == "" {
		return fmt.Errorf("command is required")
	}

	a, err := newApp(cmd.Context(), appOptions{logOutput: cmd.ErrOrStderr(), quiet: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	a.startSession(cmd.Context(), req.SessionKey)

	call, err := a.hooks.DispatchToolCall(cmd.Context(), req.SessionKey, &hooks.ToolCall{
		ToolName:   req.ToolName,
		ToolCallID: req.ToolCallID,
		Command:    req.Command,
	})
	if err != nil {
		a.logger.Warn("tool.call handler failed", "error", err)
	}
	return writeJSON(cmd.OutOrStdout(), call)
}

// runHookUserBash handles the hook user-bash command.
func runHookUserBash(cmd *cobra.Command) error {
	var req server.UserBashRequest
	if err := readJSON(cmd.InOrStdin(), &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Command) == "" {
		return fmt.Errorf("command is required")
	}

	a, err := newApp(cmd.Context(), appOptions{logOutput: cmd.ErrOrStderr(), quiet: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	a.startSession(cmd.Context(), req.SessionKey)

	bash, err := a.hooks.DispatchUserBash(cmd.Context(), req.SessionKey, req.Command)
	if err != nil {
		a.logger.Warn("user.bash handler failed", "error", err)
	}
	return writeJSON(cmd.OutOrStdout(), bash)
}

// =============================================================================
// Config Command Handlers
// =============================================================================

// runConfigSchema handles the config schema command.
func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

// runConfigValidate handles the config validate command.
func runConfigValidate(cmd *cobra.Command) error {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config OK: %s\n", path)
	fmt.Fprintf(out, "  store: %s\n", cfg.Store.Backend)
	fmt.Fprintf(out, "  default blocked: %s\n", strings.Join(cfg.Policy.DefaultBlocked, ", "))
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// joinArgs rebuilds a command line from argv. A single argument is taken as
// the whole command line. With several, an argument holding whitespace was a
// quoted word, so it is single-quoted again to keep it one token.
func joinArgs(args []string) string {
	if len(args) == 1 {
		return strings.TrimSpace(args[0])
	}
	words := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.ContainsAny(arg, " \t\n") {
			arg = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
		}
		words = append(words, arg)
	}
	return strings.TrimSpace(strings.Join(words, " "))
}

func readJSON(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
