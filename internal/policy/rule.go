package policy

import (
	"errors"
	"sort"
	"strings"
)

// ErrInvalidPrefix is returned when a prefix does not normalize to a command.
var ErrInvalidPrefix = errors.New("prefix does not name a command")

// Rule is a compiled command prefix.
type Rule struct {
	// Prefix is the canonical, space-joined form of Tokens.
	Prefix string `json:"prefix"`

	// Tokens is the normalized token sequence the rule compares against.
	Tokens []string `json:"tokens"`

	// TokenCount is len(Tokens); it is the rule's specificity.
	TokenCount int `json:"token_count"`
}

// Compile turns a user-typed prefix into a Rule, normalizing it exactly like
// an invocation. The second result is false when nothing remains after
// normalization.
func Compile(raw string) (Rule, bool) {
	tokens := NormalizeSegment(raw)
	if len(tokens) == 0 {
		return Rule{}, false
	}
	return Rule{
		Prefix:     strings.Join(tokens, " "),
		Tokens:     tokens,
		TokenCount: len(tokens),
	}, true
}

// Canonicalize returns the canonical prefix for raw, or ErrInvalidPrefix.
func Canonicalize(raw string) (string, error) {
	rule, ok := Compile(raw)
	if !ok {
		return "", ErrInvalidPrefix
	}
	return rule.Prefix, nil
}

// Matches reports whether the rule's tokens are a positional prefix of the
// invocation. Comparison is exact and case-sensitive.
func (r Rule) Matches(invocation []string) bool {
	if r.TokenCount <= 0 || r.TokenCount > len(invocation) {
		return false
	}
	for i := 0; i < r.TokenCount; i++ {
		if r.Tokens[i] != invocation[i] {
			return false
		}
	}
	return true
}

// RuleSet is a set of compiled rules keyed by canonical prefix. A nil
// *RuleSet behaves as an empty set for all read methods.
type RuleSet struct {
	rules map[string]Rule
}

// NewRuleSet compiles the given prefixes into a set. Prefixes that do not
// compile are skipped.
func NewRuleSet(prefixes ...string) *RuleSet {
	s := &RuleSet{rules: make(map[string]Rule, len(prefixes))}
	for _, p := range prefixes {
		if rule, ok := Compile(p); ok {
			s.rules[rule.Prefix] = rule
		}
	}
	return s
}

// Add inserts the rule and reports whether it was not already present.
func (s *RuleSet) Add(rule Rule) bool {
	if rule.TokenCount <= 0 || rule.Prefix == "" {
		return false
	}
	if s.rules == nil {
		s.rules = make(map[string]Rule)
	}
	if _, exists := s.rules[rule.Prefix]; exists {
		return false
	}
	s.rules[rule.Prefix] = rule
	return true
}

// Remove deletes the canonical prefix and reports whether it was present.
func (s *RuleSet) Remove(prefix string) bool {
	if s == nil {
		return false
	}
	if _, exists := s.rules[prefix]; !exists {
		return false
	}
	delete(s.rules, prefix)
	return true
}

// Has reports whether the canonical prefix is in the set.
func (s *RuleSet) Has(prefix string) bool {
	if s == nil {
		return false
	}
	_, ok := s.rules[prefix]
	return ok
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Clear removes every rule and returns how many were removed.
func (s *RuleSet) Clear() int {
	if s == nil {
		return 0
	}
	n := len(s.rules)
	s.rules = make(map[string]Rule)
	return n
}

// Prefixes returns the canonical prefixes in sorted order.
func (s *RuleSet) Prefixes() []string {
	if s == nil {
		return []string{}
	}
	prefixes := make([]string, 0, len(s.rules))
	for p := range s.rules {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return prefixes
}

// Matching returns the rules that match the invocation.
func (s *RuleSet) Matching(invocation []string) []Rule {
	if s == nil {
		return nil
	}
	var matched []Rule
	for _, rule := range s.rules {
		if rule.Matches(invocation) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// Clone returns an independent copy of the set.
func (s *RuleSet) Clone() *RuleSet {
	c := &RuleSet{rules: make(map[string]Rule, s.Len())}
	if s == nil {
		return c
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	return c
}
