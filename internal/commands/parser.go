package commands

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// DefaultPrefixes are the characters that start a command line.
var DefaultPrefixes = []string{"/", "!"}

// ErrNotCommand is returned by Dispatch when the line is not a slash command
// and should be treated as a shell command instead.
var ErrNotCommand = errors.New("not a command")

// Parser splits console lines into command invocations.
type Parser struct {
	registry *Registry
	lineRe   *regexp.Regexp
}

// NewParser returns a parser for registry. With no prefixes the defaults
// apply.
func NewParser(registry *Registry, prefixes ...string) *Parser {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	quoted := make([]string, len(prefixes))
	for i, p := range prefixes {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return &Parser{
		registry: registry,
		lineRe:   regexp.MustCompile(`^(?:` + strings.Join(quoted, "|") + `)([a-zA-Z][a-zA-Z0-9_-]*)(?:\s+([\s\S]*))?$`),
	}
}

// parse returns the lower-cased name and trimmed args, or ok=false.
func (p *Parser) parse(line string) (name, args string, ok bool) {
	m := p.lineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", "", false
	}
	return strings.ToLower(m[1]), strings.TrimSpace(m[2]), true
}

// Dispatch executes line for sessionKey. Lines that do not look like a
// command return ErrNotCommand; unknown commands return an error.
func (p *Parser) Dispatch(ctx context.Context, line, sessionKey string) (*Result, error) {
	name, args, ok := p.parse(line)
	if !ok {
		return nil, ErrNotCommand
	}
	if p.registry == nil {
		return nil, errors.New("no command registry")
	}
	return p.registry.Execute(ctx, &Invocation{
		Name:       name,
		Args:       args,
		RawText:    line,
		SessionKey: sessionKey,
	})
}
