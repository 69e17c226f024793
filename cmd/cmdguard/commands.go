package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Policy Commands
// =============================================================================

// buildCheckCmd creates the "check" command.
func buildCheckCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check <command...>",
		Short: "Check whether a shell command would be allowed",
		Long: `Evaluate a shell command against the persistent rules.

Exit status is 0 when the command is allowed and 2 when it is blocked.`,
		Example: `  cmdguard check "kubectl get pods"
  cmdguard check -- sudo gcloud auth login`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, joinArgs(args), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the decision as JSON")
	return cmd
}

// buildExplainCmd creates the "explain" command.
func buildExplainCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "explain <command...>",
		Short: "Show how each segment of a command is resolved",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(cmd, joinArgs(args), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the segment trace as JSON")
	return cmd
}

// buildBlockCmd creates the "block" command.
func buildBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "block <prefix...>",
		Short:   "Block a command prefix persistently",
		Example: `  cmdguard block terraform destroy`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyCommand(cmd, "block-persistent", joinArgs(args))
		},
	}
}

// buildPermitCmd creates the "permit" command.
func buildPermitCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "permit <prefix...>",
		Short:   "Permit a command prefix persistently",
		Example: `  cmdguard permit kubectl get`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyCommand(cmd, "permit-persistent", joinArgs(args))
		},
	}
}

// buildRulesCmd creates the "rules" command.
func buildRulesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"status"},
		Short:   "Show the persistent rules and storage location",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(cmd, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the rules as JSON")
	return cmd
}

// =============================================================================
// Hook Commands
// =============================================================================

// buildHookCmd creates the "hook" command group used by agent hosts.
func buildHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Answer host hook requests (JSON on stdin, JSON on stdout)",
	}
	cmd.AddCommand(buildHookPreToolCmd(), buildHookUserBashCmd())
	return cmd
}

func buildHookPreToolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pre-tool",
		Short: "Decide an agent tool call before it runs",
		Long: `Read {"toolName", "toolCallId", "command"} from stdin and write the
tool call back with "block" and "reason" filled in.`,
		Example: `  echo '{"toolName":"bash","command":"kubectl delete pod x"}' | cmdguard hook pre-tool`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHookPreTool(cmd)
		},
	}
}

func buildHookUserBashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user-bash",
		Short: "Decide a user-typed shell command before it runs",
		Long: `Read {"command"} from stdin and write it back with "result" set when the
command must not run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHookUserBash(cmd)
		},
	}
}

// =============================================================================
// Config Commands
// =============================================================================

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect cmdguard configuration",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigValidateCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
}

func buildConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd)
		},
	}
}
