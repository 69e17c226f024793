package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/cmdguard/internal/commands"
	"github.com/haasonsaas/cmdguard/internal/guard"
	"github.com/haasonsaas/cmdguard/internal/hooks"
)

const consolePrompt = "cmdguard> "

// =============================================================================
// Console Command Handler
// =============================================================================

// runConsole handles the console command.
func runConsole(cmd *cobra.Command, sessionKey string, execute bool) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	a, err := newApp(ctx, appOptions{
		notifier:  guard.NewWriterNotifier(out),
		logOutput: cmd.ErrOrStderr(),
		quiet:     true,
	})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	a.startSession(ctx, sessionKey)
	defer func() {
		if err := a.hooks.EmitSession(context.Background(), hooks.EventSessionShutdown, sessionKey); err != nil {
			a.logger.Warn("session.shutdown handler failed", "error", err)
		}
	}()

	if a.cfg.Store.WatchEnabled() {
		watcher, err := a.guard.WatchStore(ctx, a.cfg.Store.WatchDebounce)
		if err != nil {
			a.logger.Warn("rules file watch disabled", "error", err)
		} else if watcher != nil {
			defer watcher.Close()
		}
	}

	c := &console{
		app:        a,
		in:         cmd.InOrStdin(),
		out:        out,
		errOut:     cmd.ErrOrStderr(),
		sessionKey: sessionKey,
		execute:    execute,
	}
	c.interactive = isTerminal(c.in)
	if c.interactive {
		fmt.Fprintf(out, "cmdguard %s. Rules stored in %s. Type /help for commands.\n", version, a.guard.StoreDescription())
	}
	return c.run(ctx)
}

// console is the read-eval loop behind the console command.
type console struct {
	app         *app
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	sessionKey  string
	execute     bool
	interactive bool
}

func (c *console) run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if c.interactive {
			fmt.Fprint(c.out, consolePrompt)
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		c.handleLine(ctx, line)
		if ctx.Err() != nil {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func (c *console) handleLine(ctx context.Context, line string) {
	result, err := c.app.parser.Dispatch(ctx, line, c.sessionKey)
	switch {
	case err == nil:
		if result.Error != "" {
			fmt.Fprintln(c.out, result.Error)
			return
		}
		fmt.Fprintln(c.out, strings.TrimRight(result.Text, "\n"))
		return
	case !errors.Is(err, commands.ErrNotCommand):
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}

	bash, err := c.app.hooks.DispatchUserBash(ctx, c.sessionKey, line)
	if err != nil {
		c.app.logger.Warn("user.bash handler failed", "error", err)
	}
	if bash.Result != nil {
		fmt.Fprintln(c.out, bash.Result.Output)
		fmt.Fprintf(c.out, "(exit %d)\n", bash.Result.ExitCode)
		return
	}
	if !c.execute {
		fmt.Fprintf(c.out, "allowed: %s\n", line)
		return
	}
	c.runShell(ctx, line)
}

func (c *console) runShell(ctx context.Context, line string) {
	sh := exec.CommandContext(ctx, "sh", "-c", line)
	sh.Stdout = c.out
	sh.Stderr = c.errOut
	if err := sh.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintf(c.out, "(exit %d)\n", exitErr.ExitCode())
			return
		}
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
