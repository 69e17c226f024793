package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/cmdguard/internal/config"
	"github.com/haasonsaas/cmdguard/internal/profile"
)

// =============================================================================
// Profile Command Handlers
// =============================================================================

// runProfileList handles the profile list command.
func runProfileList(cmd *cobra.Command) error {
	profiles, err := profile.ListProfiles()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(profiles) == 0 {
		fmt.Fprintln(out, "No profiles found.")
		return nil
	}
	active, _ := profile.ReadActiveProfile()

	fmt.Fprintf(out, "Profiles in %s:\n", profile.Dir())
	for _, name := range profiles {
		backend := "invalid config"
		if cfg, err := config.Load(profile.ProfileConfigPath(name)); err == nil {
			backend = cfg.Store.Backend
		}
		marker := ""
		if name == active {
			marker = " (active)"
		}
		fmt.Fprintf(out, "  - %s [%s]%s\n", name, backend, marker)
	}
	return nil
}

// runProfileUse handles the profile use command. The profile's config must
// exist and load cleanly before it becomes active.
func runProfileUse(cmd *cobra.Command, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("profile name is required")
	}
	path := profile.ProfileConfigPath(name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("profile %q not found (run: cmdguard profile init %s)", name, name)
		}
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("profile %q: %w", name, err)
	}
	if err := profile.WriteActiveProfile(name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Active profile set: %s (rules in %s)\n", name, storeTarget(cfg.Store))
	return nil
}

// runProfileShow handles the profile show command.
func runProfileShow(cmd *cobra.Command, name string, pathOnly bool) error {
	path := profile.ProfileConfigPath(name)
	out := cmd.OutOrStdout()
	if pathOnly {
		fmt.Fprintln(out, path)
		return nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	active, _ := profile.ReadActiveProfile()
	label := name
	if label == "" {
		label = "(default)"
	}

	fmt.Fprintf(out, "Profile: %s", label)
	if name != "" && name == active {
		fmt.Fprint(out, " (active)")
	}
	fmt.Fprintf(out, "\nConfig: %s\n", path)
	fmt.Fprintf(out, "Rules: %s\n", storeTarget(cfg.Store))
	if len(cfg.Policy.DefaultBlocked) == 0 {
		fmt.Fprintln(out, "Default blocked: (none)")
	} else {
		fmt.Fprintf(out, "Default blocked: %s\n", strings.Join(cfg.Policy.DefaultBlocked, ", "))
	}
	return nil
}

// storeTarget names where a store config keeps its rules without printing
// database credentials.
func storeTarget(c config.StoreConfig) string {
	switch c.Backend {
	case config.BackendFile:
		return "file " + c.Path
	case config.BackendSQLite:
		return "sqlite " + c.DSN
	case config.BackendPostgres:
		if u, err := url.Parse(c.DSN); err == nil && u.Host != "" {
			return "postgres " + u.Host + u.Path
		}
		return "postgres"
	}
	return c.Backend
}

// runProfileInit handles the profile init command.
func runProfileInit(cmd *cobra.Command, name, backend string, setActive, force bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("profile name is required")
	}
	path := profile.ProfileConfigPath(name)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("profile config already exists: %s (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	raw, err := profileConfig(name, backend)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write profile config: %w", err)
	}
	if setActive {
		if err := profile.WriteActiveProfile(name); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Profile config written: %s\n", path)
	return nil
}

// profileConfig renders a starter config whose rules live beside the profile.
func profileConfig(name, backend string) ([]byte, error) {
	store := map[string]any{"backend": backend}
	switch backend {
	case config.BackendFile:
		store["path"] = filepath.Join(profile.HomeDir(), name+"-rules.json")
	case config.BackendSQLite:
		store["dsn"] = filepath.Join(profile.HomeDir(), name+"-rules.db")
	case config.BackendPostgres:
		store["dsn"] = "${CMDGUARD_DATABASE_URL}"
	default:
		return nil, fmt.Errorf("unknown backend %q: must be file, sqlite or postgres", backend)
	}

	raw := map[string]any{
		"version": config.CurrentVersion,
		"store":   store,
		"policy": map[string]any{
			"default_blocked": config.DefaultBlockedPrefixes,
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "auto",
		},
	}
	return yaml.Marshal(raw)
}
