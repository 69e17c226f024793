// Package profile resolves which cmdguard config is in effect: an explicit
// path, CMDGUARD_CONFIG, a named profile or the active profile marker.
package profile

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	DefaultConfigName = "config.yaml"
	ProfileExt        = ".yaml"

	// EnvProfile selects a profile when no --profile flag is given.
	EnvProfile = "CMDGUARD_PROFILE"
	// EnvConfig overrides the config path entirely.
	EnvConfig = "CMDGUARD_CONFIG"
)

// HomeDir returns the cmdguard state directory, ~/.cmdguard.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		home = "."
	}
	return filepath.Join(home, ".cmdguard")
}

// Dir holds one <name>.yaml config per profile.
func Dir() string {
	return filepath.Join(HomeDir(), "profiles")
}

func activeProfileFile() string {
	return filepath.Join(HomeDir(), "active_profile")
}

// ProfileConfigPath returns the config path for a profile name.
func ProfileConfigPath(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return filepath.Join(HomeDir(), DefaultConfigName)
	}
	return filepath.Join(Dir(), name+ProfileExt)
}

// DefaultConfigPath returns the active profile config path if set, otherwise
// ~/.cmdguard/config.yaml.
func DefaultConfigPath() string {
	if name := strings.TrimSpace(os.Getenv(EnvProfile)); name != "" {
		return ProfileConfigPath(name)
	}
	name, err := ReadActiveProfile()
	if err != nil || strings.TrimSpace(name) == "" {
		return ProfileConfigPath("")
	}
	return ProfileConfigPath(name)
}

// ResolveConfigPath picks the config path from an explicit path, a profile
// name, the environment, and finally the active profile.
func ResolveConfigPath(explicit, profileName string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfig)); p != "" {
		return p
	}
	if name := strings.TrimSpace(profileName); name != "" {
		return ProfileConfigPath(name)
	}
	return DefaultConfigPath()
}

// ReadActiveProfile loads the active profile name.
func ReadActiveProfile() (string, error) {
	data, err := os.ReadFile(activeProfileFile())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteActiveProfile sets the active profile name.
func WriteActiveProfile(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	path := activeProfileFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(name+"\n"), 0o600)
}

// ListProfiles returns available profile names.
func ListProfiles() ([]string, error) {
	entries, err := os.ReadDir(Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ProfileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ProfileExt))
	}
	sort.Strings(names)
	return names, nil
}
