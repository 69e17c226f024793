package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Backend != BackendFile {
		t.Errorf("Backend = %q", cfg.Store.Backend)
	}
	if !strings.HasSuffix(cfg.Store.Path, filepath.Join(".cmdguard", "rules.json")) {
		t.Errorf("Path = %q", cfg.Store.Path)
	}
	if !reflect.DeepEqual(cfg.Policy.DefaultBlocked, []string{"gcloud", "kubectl"}) {
		t.Errorf("DefaultBlocked = %v", cfg.Policy.DefaultBlocked)
	}
	if cfg.Server.Addr() != "127.0.0.1:7411" {
		t.Errorf("Addr() = %q", cfg.Server.Addr())
	}
	if rl := cfg.Server.RateLimit; rl.Enabled || rl.RequestsPerSecond != 20 || rl.Burst != 40 {
		t.Errorf("RateLimit = %+v", rl)
	}
	if !cfg.Store.WatchEnabled() || !cfg.Observability.MetricsEnabled() {
		t.Error("watch and metrics should default on")
	}
	if cfg.Store.WatchDebounce != 250*time.Millisecond {
		t.Errorf("WatchDebounce = %v", cfg.Store.WatchDebounce)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("CMDGUARD_TEST_DSN", "postgres://guard@db/rules")
	path := writeConfig(t, "cmdguard.yaml", `
version: 1
store:
  backend: postgres
  dsn: ${CMDGUARD_TEST_DSN}
  watch: false
  connect_timeout: 2s
policy:
  default_blocked: [terraform, "sudo kubectl delete"]
logging:
  level: debug
  format: json
server:
  port: 9000
observability:
  metrics: false
  tracing:
    enabled: true
    endpoint: localhost:4317
    sampling_rate: 0.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.DSN != "postgres://guard@db/rules" {
		t.Errorf("DSN = %q", cfg.Store.DSN)
	}
	if cfg.Store.WatchEnabled() {
		t.Error("watch should be off for postgres")
	}
	if cfg.Store.ConnectTimeout != 2*time.Second {
		t.Errorf("ConnectTimeout = %v", cfg.Store.ConnectTimeout)
	}
	if !reflect.DeepEqual(cfg.Policy.DefaultBlocked, []string{"terraform", "sudo kubectl delete"}) {
		t.Errorf("DefaultBlocked = %v", cfg.Policy.DefaultBlocked)
	}
	if cfg.Server.Addr() != "127.0.0.1:9000" {
		t.Errorf("Addr() = %q", cfg.Server.Addr())
	}
	if cfg.Observability.MetricsEnabled() {
		t.Error("metrics should be disabled")
	}
	if !cfg.Observability.Tracing.Enabled || cfg.Observability.Tracing.SamplingRate != 0.5 {
		t.Errorf("Tracing = %+v", cfg.Observability.Tracing)
	}
	if cfg.Observability.Tracing.ServiceName != "cmdguard" {
		t.Errorf("ServiceName = %q", cfg.Observability.Tracing.ServiceName)
	}
}

func TestLoadJSON5WithInclude(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("store:\n  backend: sqlite\n  dsn: /var/lib/cmdguard/rules.db\nserver:\n  port: 8000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "cmdguard.json5")
	contents := `{
  // local overrides
  "$include": "base.yaml",
  "server": {"port": 8001}
}`
	if err := os.WriteFile(main, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Backend != BackendSQLite || cfg.Store.DSN != "/var/lib/cmdguard/rules.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Server.Port != 8001 {
		t.Errorf("Port = %d, want including file to win", cfg.Server.Port)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(a)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
	if want := a + " -> " + b + " -> " + a; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not show the include chain %q", err, want)
	}
}

func TestLoadIncludeAccumulatesDefaultBlocked(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "team.yaml")
	if err := os.WriteFile(base, []byte("policy:\n  default_blocked: [gcloud, kubectl]\nserver:\n  port: 8000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "cmdguard.yaml")
	if err := os.WriteFile(main, []byte("$include: team.yaml\npolicy:\n  default_blocked: [kubectl, terraform destroy]\nserver:\n  port: 8001\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"gcloud", "kubectl", "terraform destroy"}
	if !reflect.DeepEqual(cfg.Policy.DefaultBlocked, want) {
		t.Errorf("DefaultBlocked = %v, want %v", cfg.Policy.DefaultBlocked, want)
	}
	if cfg.Server.Port != 8001 {
		t.Errorf("Port = %d, scalar settings should still be replaced", cfg.Server.Port)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "cmdguard.yaml", `
store:
  backend: file
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantErr  string
	}{
		{name: "unknown backend", contents: "store:\n  backend: redis\n", wantErr: "store.backend"},
		{name: "postgres without dsn", contents: "store:\n  backend: postgres\n", wantErr: "store.dsn"},
		{name: "bad default prefix", contents: "policy:\n  default_blocked: [sudo]\n", wantErr: "default_blocked[0]"},
		{name: "bad log level", contents: "logging:\n  level: loud\n", wantErr: "logging.level"},
		{name: "bad log format", contents: "logging:\n  format: xml\n", wantErr: "logging.format"},
		{name: "bad port", contents: "server:\n  port: 70000\n", wantErr: "server.port"},
		{name: "negative rate limit", contents: "server:\n  rate_limit:\n    burst: -1\n", wantErr: "server.rate_limit"},
		{name: "bad sampling", contents: "observability:\n  tracing:\n    sampling_rate: 2\n", wantErr: "sampling_rate"},
		{name: "bad audit output", contents: "audit:\n  enabled: true\n  output: syslog\n", wantErr: "audit.output"},
		{name: "bad audit format", contents: "audit:\n  enabled: true\n  format: logfmt\n", wantErr: "audit.format"},
		{name: "future version", contents: "version: 99\n", wantErr: "newer than this build"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "cmdguard.yaml", tt.contents))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %q in error, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExpandEnvKeepsInclude(t *testing.T) {
	t.Setenv("CMDGUARD_TEST_HOST", "0.0.0.0")
	got := expandEnv("$include: base.yaml\nhost: $CMDGUARD_TEST_HOST\n")
	if got != "$include: base.yaml\nhost: 0.0.0.0\n" {
		t.Errorf("expandEnv = %q", got)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ExpandHome("~/rules.json"); got != filepath.Join(home, "rules.json") {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs/rules.json"); got != "/abs/rules.json" {
		t.Errorf("ExpandHome changed an absolute path: %q", got)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if !strings.Contains(string(data), "default_blocked") {
		t.Error("schema should describe policy.default_blocked")
	}
}
