package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/cmdguard/internal/guard"
	"github.com/haasonsaas/cmdguard/internal/hooks"
	"github.com/haasonsaas/cmdguard/internal/observability"
)

func TestNewLogger_Disabled(t *testing.T) {
	logger, err := NewLogger(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	// Should not panic on disabled logger
	logger.Log(context.Background(), &Event{Type: EventCommandBlocked})
	logger.LogDecision(context.Background(), Decision{Command: "ls"})
	logger.Install(hooks.NewRegistry(nil))
	if err := logger.Close(); err != nil {
		t.Errorf("unexpected error closing: %v", err)
	}
}

func TestNewLogger_InvalidOutput(t *testing.T) {
	_, err := NewLogger(Config{
		Enabled: true,
		Output:  "invalid://path",
	})
	if err == nil {
		t.Error("expected error for invalid output")
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.log")
	logger, err := NewLogger(Config{Enabled: true, Output: "file:" + path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.LogSession(context.Background(), EventSessionStart, "s1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestLogger_LogLevels(t *testing.T) {
	tests := []struct {
		configLevel Level
		eventLevel  Level
		shouldLog   bool
	}{
		{LevelDebug, LevelDebug, true},
		{LevelDebug, LevelWarn, true},
		{LevelInfo, LevelDebug, false},
		{LevelInfo, LevelInfo, true},
		{LevelInfo, LevelWarn, true},
		{LevelWarn, LevelInfo, false},
		{LevelWarn, LevelWarn, true},
		{LevelWarn, LevelError, true},
		{LevelError, LevelWarn, false},
		{LevelError, LevelError, true},
		{Level("warning"), LevelInfo, false},
		{Level("warning"), LevelWarn, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.configLevel)+"_"+string(tt.eventLevel), func(t *testing.T) {
			logger := &Logger{
				config: Config{
					Enabled: true,
					Level:   tt.configLevel,
				},
			}
			result := logger.shouldLog(tt.eventLevel)
			if result != tt.shouldLog {
				t.Errorf("shouldLog(%s) with config level %s = %v, want %v",
					tt.eventLevel, tt.configLevel, result, tt.shouldLog)
			}
		})
	}
}

func TestLogger_EventTypeFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := &Logger{
		config: Config{
			Enabled:    true,
			Level:      LevelInfo,
			SampleRate: 1.0,
		},
		eventTypes: map[EventType]bool{
			EventCommandBlocked: true,
		},
		output: &nopWriteCloser{buf},
		buffer: make(chan *Event, 10),
		done:   make(chan struct{}),
	}

	// Should be filtered out
	logger.Log(context.Background(), &Event{
		Type:  EventCommandAllowed,
		Level: LevelInfo,
	})

	logger.Log(context.Background(), &Event{
		Type:  EventCommandBlocked,
		Level: LevelWarn,
	})

	select {
	case event := <-logger.buffer:
		if event.Type != EventCommandBlocked {
			t.Errorf("expected EventCommandBlocked, got %v", event.Type)
		}
		if event.ID == "" || event.Timestamp.IsZero() {
			t.Errorf("defaults not applied: %+v", event)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("expected event in buffer")
	}
	select {
	case event := <-logger.buffer:
		t.Errorf("unexpected second event %v", event.Type)
	default:
	}
}

func TestHashString(t *testing.T) {
	hash1 := hashString("kubectl get pods")
	hash2 := hashString("kubectl get pods")
	if hash1 != hash2 {
		t.Errorf("expected same hash for same input, got %s and %s", hash1, hash2)
	}
	if hashString("kubectl delete pods") == hash1 {
		t.Error("expected different hash for different input")
	}
	if len(hash1) != 16 {
		t.Errorf("expected hash length 16, got %d", len(hash1))
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Enabled {
		t.Error("expected Enabled to be false")
	}
	if cfg.Level != LevelInfo {
		t.Errorf("expected Level to be LevelInfo, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected Output stderr, got %q", cfg.Output)
	}
}

func TestInstallRecordsDecisions(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(Config{Enabled: true, Format: FormatJSON}, nopWriteCloser{buf})

	registry := hooks.NewRegistry(nil)
	g := guard.New(guard.Options{Hooks: registry, Notifier: guard.NotifierFunc(func(context.Context, string, guard.Level) {})})
	if err := g.Install(registry, nil); err != nil {
		t.Fatal(err)
	}
	logger.Install(registry)

	ctx := context.Background()
	if err := registry.EmitSession(ctx, hooks.EventSessionStart, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.DispatchToolCall(ctx, "s1", &hooks.ToolCall{ToolName: "bash", ToolCallID: "c1", Command: "kubectl get pods"}); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.DispatchUserBash(ctx, "s1", "ls -la"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.PermitSession(ctx, "s1", "kubectl get"); err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	records := decodeRecords(t, buf)
	if len(records) != 4 {
		t.Fatalf("got %d records: %v", len(records), records)
	}

	wantTypes := []EventType{EventSessionStart, EventCommandBlocked, EventCommandAllowed, EventRuleChanged}
	for i, want := range wantTypes {
		if got := records[i]["audit_type"]; got != string(want) {
			t.Errorf("record %d audit_type = %v, want %s", i, got, want)
		}
	}

	blocked := records[1]
	if blocked["tool_call_id"] != "c1" || blocked["entry"] != "tool_call" || blocked["level"] != "WARN" {
		t.Errorf("blocked record = %v", blocked)
	}
	if reason, _ := blocked["reason"].(string); !strings.Contains(reason, "persistent block: kubectl") {
		t.Errorf("reason = %q", reason)
	}
	if records[2]["command"] != "ls -la" || records[2]["session_key"] != "s1" {
		t.Errorf("allowed record = %v", records[2])
	}
	if records[3]["action"] != guard.CommandPermitSession || records[3]["prefix"] != "kubectl get" || records[3]["layer"] != "session" || records[3]["session_key"] != "s1" {
		t.Errorf("rule record = %v", records[3])
	}
}

func TestLogDecisionPrivacy(t *testing.T) {
	t.Run("hash commands", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := newLogger(Config{Enabled: true, HashCommands: true}, nopWriteCloser{buf})
		logger.LogDecision(context.Background(), Decision{Entry: "user_bash", Command: "gcloud auth login"})
		_ = logger.Close()

		records := decodeRecords(t, buf)
		if len(records) != 1 {
			t.Fatalf("got %d records", len(records))
		}
		if _, ok := records[0]["command"]; ok {
			t.Error("command text logged despite hashing")
		}
		if records[0]["command_hash"] != hashString("gcloud auth login") {
			t.Errorf("command_hash = %v", records[0]["command_hash"])
		}
	})

	t.Run("redacts secrets", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := newLogger(Config{Enabled: true}, nopWriteCloser{buf})
		logger.LogDecision(context.Background(), Decision{Command: "deploy --token=abcdefghijklmnopqrstuvwxyz"})
		_ = logger.Close()

		if strings.Contains(buf.String(), "abcdefghijklmnopqrstuvwxyz") {
			t.Errorf("secret leaked: %s", buf.String())
		}
	})

	t.Run("truncates", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := newLogger(Config{Enabled: true, MaxFieldSize: 8}, nopWriteCloser{buf})
		logger.LogDecision(context.Background(), Decision{Command: "make test-integration"})
		_ = logger.Close()

		records := decodeRecords(t, buf)
		if records[0]["command"] != "make tes...(truncated)" {
			t.Errorf("command = %v", records[0]["command"])
		}
	})
}

func TestLogDecisionCarriesRequestContext(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(Config{Enabled: true}, nopWriteCloser{buf})

	ctx := observability.AddSessionID(observability.AddRequestID(context.Background(), "req-42"), "agent-7")
	logger.LogDecision(ctx, Decision{Entry: "tool_call", Command: "kubectl get pods", Blocked: true, Reason: "blocked"})
	logger.LogDecision(ctx, Decision{Entry: "tool_call", SessionKey: "explicit", Command: "ls"})
	_ = logger.Close()

	records := decodeRecords(t, buf)
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0]["request_id"] != "req-42" || records[0]["session_key"] != "agent-7" {
		t.Errorf("record = %v, want request and session from context", records[0])
	}
	if records[1]["session_key"] != "explicit" {
		t.Errorf("session_key = %v, want the decision's own key", records[1]["session_key"])
	}
}

func TestSampleRateKeepsBlocked(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(Config{Enabled: true, SampleRate: 1e-12}, nopWriteCloser{buf})
	for i := 0; i < 20; i++ {
		logger.LogDecision(context.Background(), Decision{Command: "ls"})
	}
	logger.LogDecision(context.Background(), Decision{Command: "kubectl", Blocked: true, Reason: "blocked"})
	_ = logger.Close()

	records := decodeRecords(t, buf)
	if len(records) != 1 || records[0]["audit_type"] != string(EventCommandBlocked) {
		t.Errorf("records = %v", records)
	}
}

func decodeRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("decode %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}
	return records
}

// nopWriteCloser wraps an io.Writer to implement io.WriteCloser
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
