package main

import "github.com/spf13/cobra"

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the HTTP API.
func buildServeCmd() *cobra.Command {
	var (
		addr  string
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cmdguard HTTP API",
		Long: `Start the cmdguard HTTP API for hosts that consult the guard over HTTP.

The server will:
1. Load configuration from the specified file (or ~/.cmdguard/config.yaml)
2. Open the rule store and load the persistent rules
3. Watch the rules file and reload it when it changes
4. Serve /v1 decision and policy endpoints, /healthz and /metrics

Session rules live for the lifetime of the process or until
POST /v1/session/start. Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  cmdguard serve

  # Listen on another address
  cmdguard serve --addr 0.0.0.0:7411

  # Start with debug logging
  cmdguard serve --debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, addr, debug)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.host and server.port)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}
