package policy

import (
	"sort"
	"strings"
)

// Verdict is the outcome of evaluating one policy layer.
type Verdict int

const (
	// VerdictNone means no rule in the layer matched; the next layer decides.
	VerdictNone Verdict = iota
	// VerdictPermit means a permit rule at least as specific as any block won.
	VerdictPermit
	// VerdictBlock means a block rule was strictly more specific.
	VerdictBlock
)

// String returns the string representation of a Verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictNone:
		return "none"
	case VerdictPermit:
		return "permit"
	case VerdictBlock:
		return "block"
	default:
		return "unknown"
	}
}

// LayerName identifies which rule layer produced a decision.
type LayerName string

const (
	LayerSession    LayerName = "session"
	LayerPersistent LayerName = "persistent"
)

// Layer pairs the block and permit rule sets of one lifetime.
type Layer struct {
	Block  *RuleSet
	Permit *RuleSet
}

// NewLayer returns a layer with empty rule sets.
func NewLayer() Layer {
	return Layer{Block: NewRuleSet(), Permit: NewRuleSet()}
}

// Clone returns a deep copy of the layer.
func (l Layer) Clone() Layer {
	return Layer{Block: l.Block.Clone(), Permit: l.Permit.Clone()}
}

// LayerDecision is the result of Layer.Decide.
type LayerDecision struct {
	Verdict Verdict `json:"verdict"`

	// MatchedBlocks holds every block prefix tied at BlockMax when Verdict is
	// VerdictBlock, sorted.
	MatchedBlocks []string `json:"matched_blocks,omitempty"`

	// PermitMax and BlockMax are the longest matching rule token counts, or -1.
	PermitMax int `json:"permit_max"`
	BlockMax  int `json:"block_max"`
}

// Decide evaluates the invocation against the layer. The most specific
// matching rule wins and ties go to permit.
func (l Layer) Decide(invocation []string) LayerDecision {
	permitMax := maxTokenCount(l.Permit.Matching(invocation))
	blocks := l.Block.Matching(invocation)
	blockMax := maxTokenCount(blocks)

	d := LayerDecision{PermitMax: permitMax, BlockMax: blockMax}
	switch {
	case permitMax < 0 && blockMax < 0:
		d.Verdict = VerdictNone
	case permitMax >= blockMax:
		d.Verdict = VerdictPermit
	default:
		d.Verdict = VerdictBlock
		for _, rule := range blocks {
			if rule.TokenCount == blockMax {
				d.MatchedBlocks = append(d.MatchedBlocks, rule.Prefix)
			}
		}
		sort.Strings(d.MatchedBlocks)
	}
	return d
}

// Covers reports whether the layer would block the prefix itself, i.e. a
// block rule for it would be redundant. Invalid prefixes are never covered.
func (l Layer) Covers(prefix string) bool {
	rule, ok := Compile(prefix)
	if !ok {
		return false
	}
	return l.Decide(rule.Tokens).Verdict == VerdictBlock
}

func maxTokenCount(rules []Rule) int {
	longest := -1
	for _, r := range rules {
		if r.TokenCount > longest {
			longest = r.TokenCount
		}
	}
	return longest
}

// State holds the four rule sets as a session layer and a persistent layer.
type State struct {
	Session    Layer
	Persistent Layer
}

// NewState returns a state with all four rule sets empty.
func NewState() State {
	return State{Session: NewLayer(), Persistent: NewLayer()}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	return State{Session: s.Session.Clone(), Persistent: s.Persistent.Clone()}
}

// SegmentDecision explains how one segment was resolved.
type SegmentDecision struct {
	Segment    string   `json:"segment"`
	Invocation []string `json:"invocation,omitempty"`

	// Blocked is true when the deciding layer returned VerdictBlock.
	Blocked bool `json:"blocked"`

	// Layer is the layer that decided, empty when neither layer matched or
	// the segment has no effective command.
	Layer LayerName `json:"layer,omitempty"`

	MatchedBlocks []string `json:"matched_blocks,omitempty"`

	Session LayerDecision `json:"session"`

	// Persistent is nil when the session layer was decisive.
	Persistent *LayerDecision `json:"persistent,omitempty"`
}

// Resolve decides one invocation. A decisive session verdict always wins over
// the persistent layer regardless of specificity.
func (s State) Resolve(invocation []string) SegmentDecision {
	d := SegmentDecision{Invocation: invocation}
	if len(invocation) == 0 {
		return d
	}

	d.Session = s.Session.Decide(invocation)
	switch d.Session.Verdict {
	case VerdictPermit:
		d.Layer = LayerSession
		return d
	case VerdictBlock:
		d.Layer = LayerSession
		d.Blocked = true
		d.MatchedBlocks = d.Session.MatchedBlocks
		return d
	}

	persistent := s.Persistent.Decide(invocation)
	d.Persistent = &persistent
	switch persistent.Verdict {
	case VerdictPermit:
		d.Layer = LayerPersistent
	case VerdictBlock:
		d.Layer = LayerPersistent
		d.Blocked = true
		d.MatchedBlocks = persistent.MatchedBlocks
	}
	return d
}

// Explain resolves every segment of the command, including segments that
// have no effective command.
func (s State) Explain(command string) []SegmentDecision {
	segments := Segment(command)
	decisions := make([]SegmentDecision, 0, len(segments))
	for _, seg := range segments {
		d := s.Resolve(NormalizeSegment(seg))
		d.Segment = seg
		decisions = append(decisions, d)
	}
	return decisions
}

// BlockedInvocation records one blocked segment.
type BlockedInvocation struct {
	// Invocation is the canonical, space-joined effective invocation.
	Invocation string `json:"invocation"`

	// MatchedBlocks are the equally most specific block prefixes that matched.
	MatchedBlocks []string `json:"matched_blocks"`

	Layer LayerName `json:"layer"`
}

// Evaluate returns one record per blocked segment of the command, in segment
// order. The command may run only when the result is empty.
func (s State) Evaluate(command string) []BlockedInvocation {
	var blocked []BlockedInvocation
	for _, d := range s.Explain(command) {
		if !d.Blocked {
			continue
		}
		blocked = append(blocked, BlockedInvocation{
			Invocation:    strings.Join(d.Invocation, " "),
			MatchedBlocks: d.MatchedBlocks,
			Layer:         d.Layer,
		})
	}
	return blocked
}
