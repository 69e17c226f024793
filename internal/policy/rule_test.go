package policy

import (
	"errors"
	"reflect"
	"testing"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantOK     bool
		wantPrefix string
		wantTokens []string
	}{
		{name: "single command", raw: "kubectl", wantOK: true, wantPrefix: "kubectl", wantTokens: []string{"kubectl"}},
		{name: "whitespace collapsed", raw: "  kubectl   get  ", wantOK: true, wantPrefix: "kubectl get", wantTokens: []string{"kubectl", "get"}},
		{name: "wrapper stripped", raw: "sudo -u root kubectl delete", wantOK: true, wantPrefix: "kubectl delete", wantTokens: []string{"kubectl", "delete"}},
		{name: "quoted argument", raw: `git commit -m "wip fix"`, wantOK: true, wantPrefix: "git commit -m wip fix", wantTokens: []string{"git", "commit", "-m", "wip fix"}},
		{name: "path command", raw: "/opt/bin/GCLOUD", wantOK: true, wantPrefix: "gcloud", wantTokens: []string{"gcloud"}},
		{name: "bare wrapper", raw: "sudo", wantOK: false},
		{name: "only assignment", raw: "FOO=1", wantOK: false},
		{name: "blank", raw: "   ", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := Compile(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("Compile(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if rule.Prefix != tt.wantPrefix {
				t.Errorf("Prefix = %q, want %q", rule.Prefix, tt.wantPrefix)
			}
			if !reflect.DeepEqual(rule.Tokens, tt.wantTokens) {
				t.Errorf("Tokens = %q, want %q", rule.Tokens, tt.wantTokens)
			}
			if rule.TokenCount != len(tt.wantTokens) {
				t.Errorf("TokenCount = %d, want %d", rule.TokenCount, len(tt.wantTokens))
			}
		})
	}
}

func TestCanonicalize(t *testing.T) {
	got, err := Canonicalize("env A=1 Kubectl get")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "kubectl get" {
		t.Errorf("Canonicalize = %q, want %q", got, "kubectl get")
	}

	if _, err := Canonicalize("nohup"); !errors.Is(err, ErrInvalidPrefix) {
		t.Errorf("expected ErrInvalidPrefix, got %v", err)
	}
}

func TestRuleMatches(t *testing.T) {
	rule, _ := Compile("kubectl get")

	tests := []struct {
		name       string
		invocation []string
		want       bool
	}{
		{name: "exact", invocation: []string{"kubectl", "get"}, want: true},
		{name: "longer", invocation: []string{"kubectl", "get", "pods"}, want: true},
		{name: "shorter", invocation: []string{"kubectl"}, want: false},
		{name: "different verb", invocation: []string{"kubectl", "delete"}, want: false},
		{name: "case sensitive arguments", invocation: []string{"kubectl", "GET"}, want: false},
		{name: "not positional", invocation: []string{"echo", "kubectl", "get"}, want: false},
		{name: "empty", invocation: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rule.Matches(tt.invocation); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.invocation, got, tt.want)
			}
		})
	}

	if (Rule{}).Matches([]string{"kubectl"}) {
		t.Error("zero rule must never match")
	}
}

func TestRuleMatchesMonotonic(t *testing.T) {
	rules := []string{"git", "git push", "git push --force", "kubectl get pods"}
	invocations := [][]string{
		{"git"},
		{"git", "push"},
		{"git", "push", "--force"},
		{"kubectl", "get", "pods"},
		{"kubectl", "get"},
	}
	extra := []string{"origin", "main", "-v"}

	for _, raw := range rules {
		rule, ok := Compile(raw)
		if !ok {
			t.Fatalf("Compile(%q) failed", raw)
		}
		for _, inv := range invocations {
			matched := rule.Matches(inv)

			wantPrefix := len(inv) >= rule.TokenCount && reflect.DeepEqual(rule.Tokens, inv[:rule.TokenCount])
			if matched != wantPrefix {
				t.Errorf("%q.Matches(%q) = %v, want %v", raw, inv, matched, wantPrefix)
			}

			if !matched {
				continue
			}
			longer := append(append([]string{}, inv...), extra...)
			if !rule.Matches(longer) {
				t.Errorf("%q matched %q but not %q", raw, inv, longer)
			}
		}
	}
}

func TestRuleSet(t *testing.T) {
	s := NewRuleSet("kubectl", "sudo kubectl", "", "env", "git  push")

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if got := s.Prefixes(); !reflect.DeepEqual(got, []string{"git push", "kubectl"}) {
		t.Errorf("Prefixes() = %q", got)
	}

	rule, _ := Compile("gcloud")
	if !s.Add(rule) {
		t.Error("expected Add to report a new rule")
	}
	if s.Add(rule) {
		t.Error("expected duplicate Add to report false")
	}
	if s.Add(Rule{}) {
		t.Error("expected zero rule to be rejected")
	}

	clone := s.Clone()
	if !s.Remove("gcloud") {
		t.Error("expected Remove to report true")
	}
	if s.Remove("gcloud") {
		t.Error("expected second Remove to report false")
	}
	if !clone.Has("gcloud") {
		t.Error("clone must not observe removals from the original")
	}

	if n := clone.Clear(); n != 3 {
		t.Errorf("Clear() = %d, want 3", n)
	}
	if clone.Len() != 0 {
		t.Errorf("Len() after Clear = %d", clone.Len())
	}
}

func TestRuleSetNil(t *testing.T) {
	var s *RuleSet
	if s.Len() != 0 || s.Has("x") || s.Remove("x") || s.Clear() != 0 {
		t.Error("nil set should behave as empty")
	}
	if len(s.Prefixes()) != 0 || s.Matching([]string{"x"}) != nil {
		t.Error("nil set should have no prefixes or matches")
	}
	if s.Clone().Len() != 0 {
		t.Error("clone of nil set should be empty")
	}
}
