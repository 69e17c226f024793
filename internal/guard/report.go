package guard

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/cmdguard/internal/policy"
)

// ResolutionOrder describes how rules are applied, for status output.
const ResolutionOrder = "Session rules are checked first; a matching session permit or block decides the segment. " +
	"Otherwise persistent rules decide. Within a layer the longest matching prefix wins and ties go to permit. " +
	"A command is blocked when any of its segments is blocked."

// Status is a snapshot of the four rule sets seen by one session.
type Status struct {
	SessionKey          string   `json:"session_key"`
	SessionBlocked      []string `json:"session_blocked"`
	SessionPermitted    []string `json:"session_permitted"`
	PersistentBlocked   []string `json:"persistent_blocked"`
	PersistentPermitted []string `json:"persistent_permitted"`
	Storage             string   `json:"storage"`
	ResolutionOrder     string   `json:"resolution_order"`
}

// Status returns the rule sets that apply to sessionKey.
func (g *Guard) Status(sessionKey string) Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.stateLocked(sessionKey)
	return Status{
		SessionKey:          sessionKey,
		SessionBlocked:      state.Session.Block.Prefixes(),
		SessionPermitted:    state.Session.Permit.Prefixes(),
		PersistentBlocked:   state.Persistent.Block.Prefixes(),
		PersistentPermitted: state.Persistent.Permit.Prefixes(),
		Storage:             g.StoreDescription(),
		ResolutionOrder:     ResolutionOrder,
	}
}

// String renders the status for people.
func (s Status) String() string {
	var sb strings.Builder
	sb.WriteString("cmdguard policy\n")
	if s.SessionKey != "" {
		fmt.Fprintf(&sb, "Session: %s\n", s.SessionKey)
	}
	writeSet(&sb, "Session blocked", s.SessionBlocked)
	writeSet(&sb, "Session permitted", s.SessionPermitted)
	writeSet(&sb, "Persistent blocked", s.PersistentBlocked)
	writeSet(&sb, "Persistent permitted", s.PersistentPermitted)
	if s.Storage != "" {
		fmt.Fprintf(&sb, "Storage: %s\n", s.Storage)
	}
	fmt.Fprintf(&sb, "Resolution: %s\n", s.ResolutionOrder)
	return sb.String()
}

func writeSet(sb *strings.Builder, title string, prefixes []string) {
	fmt.Fprintf(sb, "%s (%d):\n", title, len(prefixes))
	if len(prefixes) == 0 {
		sb.WriteString("  (none)\n")
		return
	}
	for _, p := range prefixes {
		fmt.Fprintf(sb, "  %s\n", p)
	}
}

// BlockReason renders the message returned to the agent for a blocked
// command. It lists every blocked invocation and how to allow it.
func BlockReason(blocked []policy.BlockedInvocation) string {
	if len(blocked) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Blocked by cmdguard command policy:\n")
	for _, b := range blocked {
		fmt.Fprintf(&sb, "  - %s (%s block: %s)\n", b.Invocation, b.Layer, strings.Join(b.MatchedBlocks, ", "))
	}
	sb.WriteString("Do not retry with a different wrapper or spelling. If this command is required, ask the user to allow it with " +
		"/permit-session <prefix> or /permit-persistent <prefix>.")
	return sb.String()
}

// DescribeChange renders the outcome of a block or permit command.
func DescribeChange(c Change, storage string) string {
	scope := "for this session"
	if c.Layer == policy.LayerPersistent {
		scope = "persistently"
	}
	verb, opposite := "Blocked", "permit"
	if c.Command == CommandPermitSession || c.Command == CommandPermitPersistent {
		verb, opposite = "Permitted", "block"
	}

	var parts []string
	if c.RemovedOpposite {
		parts = append(parts, fmt.Sprintf("Removed %s %s rule %q.", c.Layer, opposite, c.Prefix))
	}
	switch {
	case c.Added:
		parts = append(parts, fmt.Sprintf("%s %q %s.", verb, c.Prefix, scope))
	case c.AlreadyCovered:
		parts = append(parts, fmt.Sprintf("%q is already blocked by an existing persistent rule; no rule added.", c.Prefix))
	default:
		parts = append(parts, fmt.Sprintf("%q is already %s %s.", c.Prefix, strings.ToLower(verb), scope))
	}
	if c.Layer == policy.LayerPersistent && storage != "" {
		parts = append(parts, fmt.Sprintf("Saved to %s.", storage))
	}
	return strings.Join(parts, " ")
}

// DescribeReset renders the outcome of reset-session.
func DescribeReset(c ResetCounts) string {
	return fmt.Sprintf("Session rules reset: cleared %d blocked and %d permitted prefixes.", c.Blocked, c.Permitted)
}

// FormatExplain renders a per-segment resolution trace.
func FormatExplain(decisions []policy.SegmentDecision) string {
	if len(decisions) == 0 {
		return "No segments.\n"
	}
	var sb strings.Builder
	for i, d := range decisions {
		fmt.Fprintf(&sb, "Segment %d: %s\n", i+1, d.Segment)
		if len(d.Invocation) == 0 {
			sb.WriteString("  invocation: (none)\n  result: allow (no command)\n")
			continue
		}
		fmt.Fprintf(&sb, "  invocation: %s\n", strings.Join(d.Invocation, " "))
		writeLayer(&sb, policy.LayerSession, &d.Session)
		if d.Persistent != nil {
			writeLayer(&sb, policy.LayerPersistent, d.Persistent)
		} else {
			fmt.Fprintf(&sb, "  %s: skipped\n", policy.LayerPersistent)
		}
		switch {
		case d.Blocked:
			fmt.Fprintf(&sb, "  result: block by %s rule %s\n", d.Layer, strings.Join(d.MatchedBlocks, ", "))
		case d.Layer != "":
			fmt.Fprintf(&sb, "  result: allow by %s permit\n", d.Layer)
		default:
			sb.WriteString("  result: allow (no matching rule)\n")
		}
	}
	return sb.String()
}

func writeLayer(sb *strings.Builder, layer policy.LayerName, d *policy.LayerDecision) {
	fmt.Fprintf(sb, "  %s: %s (longest permit %s, longest block %s)\n", layer, d.Verdict, tokenCount(d.PermitMax), tokenCount(d.BlockMax))
}

func tokenCount(n int) string {
	if n < 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}
