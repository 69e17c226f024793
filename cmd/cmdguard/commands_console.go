package main

import "github.com/spf13/cobra"

// =============================================================================
// Console Command
// =============================================================================

// buildConsoleCmd creates the "console" command, an interactive session in
// which session rules live until the console exits.
func buildConsoleCmd() *cobra.Command {
	var (
		execute    bool
		sessionKey string
	)
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Start an interactive policy session",
		Long: `Start an interactive session.

Lines starting with "/" run policy commands such as /block-session,
/permit-persistent or /policy-status. Any other line is checked as a
user-typed shell command. With --exec, allowed commands are run with sh.

Type /help for the command list and "exit" to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd, sessionKey, execute)
		},
	}
	cmd.Flags().BoolVar(&execute, "exec", false, "Run allowed commands with sh -c")
	cmd.Flags().StringVar(&sessionKey, "session", "console", "Session key reported to hooks")
	return cmd
}
