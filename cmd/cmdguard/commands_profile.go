package main

import "github.com/spf13/cobra"

// =============================================================================
// Profile Commands
// =============================================================================

// buildProfileCmd creates the "profile" command group. Each profile is a
// config file with its own rule store, so switching profiles switches the
// persistent block and permit lists.
func buildProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage configuration profiles and their rule stores",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List profiles with their rule store backend",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runProfileList(cmd)
			},
		},
		&cobra.Command{
			Use:   "use <name>",
			Short: "Validate a profile and make it active",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runProfileUse(cmd, args[0])
			},
		},
		buildProfileShowCmd(),
		buildProfileInitCmd(),
	)
	return cmd
}

func buildProfileShowCmd() *cobra.Command {
	var pathOnly bool
	cmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Show where a profile keeps its rules",
		Long:  "Show a profile's config path, rule store and default block list. Without a name the default config is shown.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return runProfileShow(cmd, name, pathOnly)
		},
	}
	cmd.Flags().BoolVar(&pathOnly, "path", false, "Print only the config path")
	return cmd
}

func buildProfileInitCmd() *cobra.Command {
	var (
		backend   string
		setActive bool
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Write a starter config whose rules live beside the profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfileInit(cmd, args[0], backend, setActive, force)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "file", "Rule store backend (file, sqlite, postgres)")
	cmd.Flags().BoolVar(&setActive, "use", false, "Set as active profile after creation")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing profile config")
	return cmd
}
