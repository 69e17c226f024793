package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry holds the commands a host exposes and resolves aliases.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	aliases  map[string]string
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
		logger:   logger.With("component", "commands"),
	}
}

func normalizeName(name string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "/")
}

// Register adds cmd. A name that collides with an existing name or alias is
// an error; an alias that collides is skipped with a warning.
func (r *Registry) Register(cmd *Command) error {
	switch {
	case cmd == nil:
		return fmt.Errorf("command is nil")
	case cmd.Name == "":
		return fmt.Errorf("command name is required")
	case cmd.Handler == nil:
		return fmt.Errorf("command %q has no handler", cmd.Name)
	}
	name := normalizeName(cmd.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.commands[name]; ok {
		return fmt.Errorf("command %q already registered", name)
	}
	if owner, ok := r.aliases[name]; ok {
		return fmt.Errorf("command %q conflicts with an alias of %q", name, owner)
	}
	r.commands[name] = cmd

	for _, alias := range cmd.Aliases {
		alias = normalizeName(alias)
		if alias == "" || alias == name {
			continue
		}
		_, isName := r.commands[alias]
		_, isAlias := r.aliases[alias]
		if isName || isAlias {
			r.logger.Warn("alias already taken", "alias", alias, "command", name)
			continue
		}
		r.aliases[alias] = name
	}

	r.logger.Debug("registered command", "name", name, "category", cmd.Category, "source", cmd.Source)
	return nil
}

// Get resolves a name or alias. A leading slash is ignored.
func (r *Registry) Get(name string) (*Command, bool) {
	name = normalizeName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if cmd, ok := r.commands[name]; ok {
		return cmd, true
	}
	if target, ok := r.aliases[name]; ok {
		cmd, ok := r.commands[target]
		return cmd, ok
	}
	return nil, false
}

// Groups returns the commands by category: policy first, system last and
// anything else alphabetically in between.
func (r *Registry) Groups() []Group {
	r.mu.RLock()
	byCategory := make(map[string][]*Command)
	for _, cmd := range r.commands {
		category := cmd.Category
		if category == "" {
			category = CategorySystem
		}
		byCategory[category] = append(byCategory[category], cmd)
	}
	r.mu.RUnlock()

	groups := make([]Group, 0, len(byCategory))
	for category, cmds := range byCategory {
		sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
		groups = append(groups, Group{Category: category, Commands: cmds})
	}
	sort.Slice(groups, func(i, j int) bool {
		ri, rj := categoryRank(groups[i].Category), categoryRank(groups[j].Category)
		if ri != rj {
			return ri < rj
		}
		return groups[i].Category < groups[j].Category
	})
	return groups
}

func categoryRank(category string) int {
	switch category {
	case CategoryPolicy:
		return 0
	case CategorySystem:
		return 2
	default:
		return 1
	}
}

// Execute runs the command named by inv.Name.
func (r *Registry) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	if inv == nil {
		return nil, fmt.Errorf("invocation is nil")
	}
	cmd, ok := r.Get(inv.Name)
	if !ok {
		return nil, fmt.Errorf("command %q not found", inv.Name)
	}
	if !cmd.AcceptsArgs && strings.TrimSpace(inv.Args) != "" {
		return &Result{Error: fmt.Sprintf("/%s takes no arguments", cmd.Name)}, nil
	}

	inv.Command = cmd
	r.logger.Debug("executing command", "name", cmd.Name, "session_key", inv.SessionKey)
	return cmd.Handler(ctx, inv)
}
