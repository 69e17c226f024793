package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/cmdguard/internal/observability"
	"github.com/haasonsaas/cmdguard/internal/policy"
	"github.com/haasonsaas/cmdguard/internal/profile"
)

// Config is the main configuration structure for cmdguard.
type Config struct {
	Version       int                 `yaml:"version"`
	Store         StoreConfig         `yaml:"store"`
	Policy        PolicyConfig        `yaml:"policy"`
	Logging       LoggingConfig       `yaml:"logging"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
	Audit         AuditConfig         `yaml:"audit"`
}

// StoreConfig selects where persistent rules live.
type StoreConfig struct {
	// Backend is one of "file", "sqlite" or "postgres".
	Backend string `yaml:"backend"`

	// Path is the rules file for the file backend.
	Path string `yaml:"path"`

	// DSN is the database path (sqlite) or connection URL (postgres).
	DSN string `yaml:"dsn"`

	// Watch reloads persistent rules when the rules file changes on disk.
	Watch *bool `yaml:"watch"`

	WatchDebounce  time.Duration `yaml:"watch_debounce"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// WatchEnabled reports whether rules file watching is on.
func (c StoreConfig) WatchEnabled() bool {
	return c.Backend == BackendFile && (c.Watch == nil || *c.Watch)
}

// PolicyConfig configures the built-in rule defaults.
type PolicyConfig struct {
	// DefaultBlocked seeds the persistent block list when no stored rules exist.
	DefaultBlocked []string `yaml:"default_blocked"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Token, when set, must be sent as a bearer token on /v1 requests.
	Token string `yaml:"token"`

	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles /v1 requests per client address.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics *bool         `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsEnabled reports whether the /metrics endpoint is served.
func (c ObservabilityConfig) MetricsEnabled() bool {
	return c.Metrics == nil || *c.Metrics
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// AuditConfig configures the decision audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`

	// Output is "stdout", "stderr" or "file:<path>".
	Output string `yaml:"output"`

	// HashCommands logs a digest instead of the command text.
	HashCommands bool `yaml:"hash_commands"`

	MaxFieldSize  int           `yaml:"max_field_size"`
	EventTypes    []string      `yaml:"event_types"`
	SampleRate    float64       `yaml:"sample_rate"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// DefaultBlockedPrefixes is the block list used when nothing is stored.
var DefaultBlockedPrefixes = []string{"gcloud", "kubectl"}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the configuration at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendFile
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(profile.HomeDir(), "rules.json")
	}
	cfg.Store.Path = ExpandHome(cfg.Store.Path)
	if cfg.Store.Backend == BackendSQLite {
		if cfg.Store.DSN == "" {
			cfg.Store.DSN = filepath.Join(profile.HomeDir(), "rules.db")
		}
		cfg.Store.DSN = ExpandHome(cfg.Store.DSN)
	}
	if cfg.Store.WatchDebounce <= 0 {
		cfg.Store.WatchDebounce = 250 * time.Millisecond
	}
	if cfg.Store.ConnectTimeout <= 0 {
		cfg.Store.ConnectTimeout = 5 * time.Second
	}

	if cfg.Policy.DefaultBlocked == nil {
		cfg.Policy.DefaultBlocked = append([]string(nil), DefaultBlockedPrefixes...)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7411
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 64 * 1024
	}
	if cfg.Server.RateLimit.RequestsPerSecond == 0 {
		cfg.Server.RateLimit.RequestsPerSecond = 20
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 40
	}

	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "cmdguard"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1
	}

	if cfg.Audit.Level == "" {
		cfg.Audit.Level = "info"
	}
	if cfg.Audit.Format == "" {
		cfg.Audit.Format = "json"
	}
	if cfg.Audit.Output == "" {
		cfg.Audit.Output = "file:" + filepath.Join(profile.HomeDir(), "audit.log")
	}
	if cfg.Audit.SampleRate == 0 {
		cfg.Audit.SampleRate = 1
	}
}

func validate(cfg *Config) error {
	var issues []string

	switch cfg.Store.Backend {
	case BackendFile, BackendSQLite:
	case BackendPostgres:
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			issues = append(issues, "store.dsn is required for the postgres backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("store.backend %q must be file, sqlite or postgres", cfg.Store.Backend))
	}

	for i, prefix := range cfg.Policy.DefaultBlocked {
		if _, ok := policy.Compile(prefix); !ok {
			issues = append(issues, fmt.Sprintf("policy.default_blocked[%d] %q does not name a command", i, prefix))
		}
	}

	if _, err := observability.ParseLogLevel(cfg.Logging.Level); err != nil {
		issues = append(issues, "logging.level: "+err.Error())
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "auto":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json, text or auto", cfg.Logging.Format))
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port %d is out of range", cfg.Server.Port))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		issues = append(issues, "server.max_body_bytes must not be negative")
	}
	if cfg.Server.RateLimit.RequestsPerSecond < 0 || cfg.Server.RateLimit.Burst < 0 {
		issues = append(issues, "server.rate_limit values must not be negative")
	}

	rate := cfg.Observability.Tracing.SamplingRate
	if rate < 0 || rate > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be between 0 and 1")
	}

	if cfg.Audit.Enabled {
		if _, err := observability.ParseLogLevel(cfg.Audit.Level); err != nil {
			issues = append(issues, "audit.level: "+err.Error())
		}
		switch cfg.Audit.Format {
		case "json", "text":
		default:
			issues = append(issues, fmt.Sprintf("audit.format %q must be json or text", cfg.Audit.Format))
		}
		out := cfg.Audit.Output
		if out != "stdout" && out != "stderr" && !strings.HasPrefix(out, "file:") {
			issues = append(issues, fmt.Sprintf("audit.output %q must be stdout, stderr or file:<path>", out))
		}
		if cfg.Audit.SampleRate < 0 || cfg.Audit.SampleRate > 1 {
			issues = append(issues, "audit.sample_rate must be between 0 and 1")
		}
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(issues, "; "))
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
