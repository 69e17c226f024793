// Package commands routes the slash commands an operator types into a host
// console (/block-session, /permit-persistent, /policy-status and friends).
package commands

import (
	"context"
)

// Help categories. Policy commands are listed first.
const (
	CategoryPolicy = "policy"
	CategorySystem = "system"
)

// Command is a registered slash command.
type Command struct {
	// Name without the leading slash, e.g. "block-session".
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description,omitempty"`
	Usage       string   `json:"usage,omitempty"`

	// AcceptsArgs is false for commands such as /reset-session that take
	// no prefix.
	AcceptsArgs bool `json:"accepts_args"`

	// SessionScoped marks commands whose effect is limited to the invoking
	// session key. Help output names the key for them.
	SessionScoped bool `json:"session_scoped,omitempty"`

	Category string         `json:"category,omitempty"`
	Source   string         `json:"source,omitempty"`
	Handler  CommandHandler `json:"-"`
}

// CommandHandler processes a command invocation.
type CommandHandler func(ctx context.Context, inv *Invocation) (*Result, error)

// Invocation is one call of a command.
type Invocation struct {
	Command *Command

	// Name is the name or alias that was typed.
	Name string

	// Args is the text after the name. Policy commands treat it as a raw
	// command prefix.
	Args string

	RawText    string
	SessionKey string
}

// Result is the output of a command.
type Result struct {
	Text  string         `json:"text,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// Group is one help category with its commands sorted by name.
type Group struct {
	Category string
	Commands []*Command
}
