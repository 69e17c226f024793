// Package main provides the CLI entry point for cmdguard, a command-prefix
// policy engine that decides whether agent and user shell commands may run.
//
// # Basic Usage
//
// Check a command against the current rules:
//
//	cmdguard check "sudo kubectl delete ns prod"
//
// Manage persistent rules:
//
//	cmdguard block "terraform destroy"
//	cmdguard permit "kubectl get"
//	cmdguard rules
//
// Wire it into an agent host as a pre-execution hook:
//
//	echo '{"command":"gcloud auth login"}' | cmdguard hook pre-tool
//
// Run the HTTP API:
//
//	cmdguard serve --config ~/.cmdguard/config.yaml
//
// # Environment Variables
//
//   - CMDGUARD_CONFIG: Path to the configuration file
//   - CMDGUARD_PROFILE: Profile name under ~/.cmdguard/profiles
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath  string
	profileName string
)

// exitError carries a process exit code without being logged as a failure.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cmdguard",
		Short: "Command-prefix policy guard for agent shell commands",
		Long: `cmdguard decides whether shell commands issued by an AI agent or typed by
a user may run. Rules are command prefixes held in two layers: session rules
that last for one host session, and persistent rules saved to disk or a
database. Session rules are consulted first; within a layer the longest
matching prefix wins and a block beats a permit of equal length.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file (default ~/.cmdguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "",
		"Profile name (uses ~/.cmdguard/profiles/<name>.yaml)")

	rootCmd.AddCommand(
		buildCheckCmd(),
		buildExplainCmd(),
		buildBlockCmd(),
		buildPermitCmd(),
		buildRulesCmd(),
		buildHookCmd(),
		buildConsoleCmd(),
		buildServeCmd(),
		buildProfileCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}
