package policy

import (
	"regexp"
	"strings"
)

// envAssignment matches a leading NAME=value shell assignment.
var envAssignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// wrapper describes how to step over a command that only launches another
// command (sudo, env, ...). Every token starting with '-' is skipped as an
// option; options listed in valueFlags also consume the following token.
type wrapper struct {
	// skipAssignments also skips NAME=value tokens between options.
	skipAssignments bool

	// valueFlags are options that take a separate value argument.
	valueFlags map[string]bool
}

// wrappers maps a normalized command name to its stripping strategy.
var wrappers = map[string]wrapper{
	"env": {
		skipAssignments: true,
		valueFlags:      flagSet("-u", "--unset"),
	},
	"sudo": {
		valueFlags: flagSet(
			"-u", "--user",
			"-g", "--group",
			"-h", "--host",
			"-p", "--prompt",
			"-r", "--role",
			"-t", "--type",
			"-c", "--close-from",
		),
	},
	"command": {},
	"nohup":   {},
	"time":    {},
}

func flagSet(flags ...string) map[string]bool {
	set := make(map[string]bool, len(flags))
	for _, f := range flags {
		set[f] = true
	}
	return set
}

// IsWrapper reports whether name is a command that is stripped during
// normalization.
func IsWrapper(name string) bool {
	_, ok := wrappers[name]
	return ok
}

// IsEnvAssignment reports whether token has the NAME=value shape.
func IsEnvAssignment(token string) bool {
	return envAssignment.MatchString(token)
}

// CommandName reduces a command token to the name rules compare against:
// surrounding quotes and parentheses are removed, only the last path
// component is kept, a trailing ".exe" is dropped and the result is
// lowercased.
func CommandName(token string) string {
	name := strings.Trim(token, `"'`)
	name = strings.TrimLeft(name, "(")
	name = strings.TrimRight(name, ")")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if len(name) >= 4 && strings.EqualFold(name[len(name)-4:], ".exe") {
		name = name[:len(name)-4]
	}
	return strings.ToLower(name)
}

// Normalize returns the effective invocation for a tokenized segment. Leading
// environment assignments and wrapper commands (with their options) are
// skipped, and the first remaining token is replaced by its CommandName.
// It returns nil when the segment never reaches a real command.
func Normalize(tokens []string) []string {
	i := 0
	for {
		for i < len(tokens) && IsEnvAssignment(tokens[i]) {
			i++
		}
		if i >= len(tokens) {
			return nil
		}

		name := CommandName(tokens[i])
		w, ok := wrappers[name]
		if !ok {
			if name == "" {
				return nil
			}
			invocation := make([]string, 0, len(tokens)-i)
			invocation = append(invocation, name)
			return append(invocation, tokens[i+1:]...)
		}

		i++
		for i < len(tokens) {
			tok := tokens[i]
			if w.skipAssignments && IsEnvAssignment(tok) {
				i++
				continue
			}
			if !strings.HasPrefix(tok, "-") {
				break
			}
			i++
			if w.valueFlags[tok] {
				i++
			}
		}
		if i >= len(tokens) {
			return nil
		}
	}
}

// NormalizeSegment tokenizes and normalizes one segment.
func NormalizeSegment(segment string) []string {
	return Normalize(Tokenize(segment))
}
