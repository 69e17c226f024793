package guard

import (
	"strings"
	"testing"

	"github.com/haasonsaas/cmdguard/internal/policy"
)

func TestBlockReason(t *testing.T) {
	if got := BlockReason(nil); got != "" {
		t.Errorf("BlockReason(nil) = %q", got)
	}

	reason := BlockReason([]policy.BlockedInvocation{
		{Invocation: "kubectl delete ns prod", MatchedBlocks: []string{"kubectl"}, Layer: policy.LayerPersistent},
		{Invocation: "gcloud auth login", MatchedBlocks: []string{"gcloud auth", "gcloud auth"}, Layer: policy.LayerSession},
	})
	for _, want := range []string{
		"  - kubectl delete ns prod (persistent block: kubectl)\n",
		"  - gcloud auth login (session block: gcloud auth, gcloud auth)\n",
		"/permit-persistent <prefix>",
	} {
		if !strings.Contains(reason, want) {
			t.Errorf("reason missing %q:\n%s", want, reason)
		}
	}
}

func TestDescribeChange(t *testing.T) {
	tests := []struct {
		name    string
		change  Change
		storage string
		want    string
	}{
		{
			name:   "session block added",
			change: Change{Command: CommandBlockSession, Prefix: "rm", Layer: policy.LayerSession, Added: true},
			want:   `Blocked "rm" for this session.`,
		},
		{
			name:   "session permit already present",
			change: Change{Command: CommandPermitSession, Prefix: "ls", Layer: policy.LayerSession},
			want:   `"ls" is already permitted for this session.`,
		},
		{
			name:    "persistent permit replacing block",
			change:  Change{Command: CommandPermitPersistent, Prefix: "kubectl", Layer: policy.LayerPersistent, Added: true, RemovedOpposite: true},
			storage: "file /tmp/rules.json",
			want:    `Removed persistent block rule "kubectl". Permitted "kubectl" persistently. Saved to file /tmp/rules.json.`,
		},
		{
			name:   "covered block",
			change: Change{Command: CommandBlockPersistent, Prefix: "kubectl get", Layer: policy.LayerPersistent, AlreadyCovered: true},
			want:   `"kubectl get" is already blocked by an existing persistent rule; no rule added.`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DescribeChange(tt.change, tt.storage); got != tt.want {
				t.Errorf("DescribeChange() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	s := Status{
		SessionPermitted:  []string{"gcloud config list"},
		PersistentBlocked: []string{"gcloud", "kubectl"},
		Storage:           "file /tmp/rules.json",
		ResolutionOrder:   ResolutionOrder,
	}
	out := s.String()
	for _, want := range []string{
		"Session blocked (0):\n  (none)\n",
		"Session permitted (1):\n  gcloud config list\n",
		"Persistent blocked (2):\n  gcloud\n  kubectl\n",
		"Storage: file /tmp/rules.json\n",
		"ties go to permit",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
}

func TestFormatExplain(t *testing.T) {
	state := policy.NewState()
	state.Persistent.Block.Add(mustRule(t, "kubectl"))
	state.Persistent.Permit.Add(mustRule(t, "kubectl get"))
	state.Session.Block.Add(mustRule(t, "rm"))

	out := FormatExplain(state.Explain("FOO=1; kubectl get pods; kubectl delete pod x; rm -rf /tmp/x"))
	for _, want := range []string{
		"Segment 1: FOO=1\n  invocation: (none)\n",
		"Segment 2: kubectl get pods\n",
		"  persistent: permit (longest permit 2, longest block 1)\n  result: allow by persistent permit\n",
		"  result: block by persistent rule kubectl\n",
		"Segment 4: rm -rf /tmp/x\n",
		"  session: block (longest permit -, longest block 1)\n  persistent: skipped\n  result: block by session rule rm\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("explain missing %q:\n%s", want, out)
		}
	}

	if got := FormatExplain(nil); got != "No segments.\n" {
		t.Errorf("FormatExplain(nil) = %q", got)
	}
}

func mustRule(t *testing.T, raw string) policy.Rule {
	t.Helper()
	rule, ok := policy.Compile(raw)
	if !ok {
		t.Fatalf("Compile(%q) failed", raw)
	}
	return rule
}
