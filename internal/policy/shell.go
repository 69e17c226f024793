// Package policy implements the command-prefix policy engine: splitting shell
// command strings into segments, tokenizing and normalizing each segment into
// the effective invocation, and resolving block/permit prefix rules across the
// session and persistent layers.
package policy

import (
	"strings"
	"unicode"
)

// Segment splits a raw command string into independently evaluated shell
// segments. Unquoted, unescaped ';', '|', '&' and newlines end a segment.
// Quote characters and backslashes are kept in the segment text so the
// tokenizer can interpret them later.
func Segment(command string) []string {
	var segments []string
	var buf strings.Builder
	var quote rune
	escaped := false

	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			segments = append(segments, s)
		}
		buf.Reset()
	}

	for _, ch := range command {
		if escaped {
			buf.WriteRune(ch)
			escaped = false
			continue
		}

		switch {
		case ch == '\\' && quote != '\'':
			buf.WriteRune(ch)
			escaped = true
		case quote != 0:
			if ch == quote {
				quote = 0
			}
			buf.WriteRune(ch)
		case ch == '\'' || ch == '"':
			quote = ch
			buf.WriteRune(ch)
		case ch == ';' || ch == '|' || ch == '&' || ch == '\n':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()

	return segments
}

// Tokenize splits one segment into words. Quotes are stripped, backslash
// escapes the next character outside single quotes, and adjacent quoted and
// unquoted fragments join into a single word.
func Tokenize(segment string) []string {
	var tokens []string
	var cur strings.Builder
	var quote rune
	escaped := false

	for _, ch := range segment {
		switch {
		case escaped:
			cur.WriteRune(ch)
			escaped = false
		case ch == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				cur.WriteRune(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case unicode.IsSpace(ch):
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(ch)
		}
	}

	// A dangling backslash escapes nothing and is kept as a literal.
	if escaped {
		cur.WriteRune('\\')
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}
