package commands

import (
	"context"
	"fmt"
	"strings"
)

// RegisterBuiltins adds /help. It panics if help is already registered.
func RegisterBuiltins(r *Registry) {
	err := r.Register(&Command{
		Name:        "help",
		Aliases:     []string{"h", "?", "commands"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		AcceptsArgs: true,
		Category:    CategorySystem,
		Source:      "builtin",
		Handler:     helpHandler(r),
	})
	if err != nil {
		panic(fmt.Sprintf("register builtin help: %v", err))
	}
}

func helpHandler(r *Registry) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if inv.Args != "" {
			return &Result{Text: describeCommand(r, inv.Args, inv.SessionKey)}, nil
		}

		var sb strings.Builder
		sb.WriteString("Available commands\n")
		for _, group := range r.Groups() {
			fmt.Fprintf(&sb, "\n%s\n", categoryTitle(group.Category))
			for _, cmd := range group.Commands {
				desc := cmd.Description
				if desc == "" {
					desc = "No description"
				}
				fmt.Fprintf(&sb, "  /%s - %s\n", cmd.Name, desc)
			}
		}
		if inv.SessionKey != "" {
			fmt.Fprintf(&sb, "\nSession rules apply to session %q only.\n", inv.SessionKey)
		}
		sb.WriteString("\nUse /help <command> for more details.")
		return &Result{Text: sb.String()}, nil
	}
}

func describeCommand(r *Registry, name, sessionKey string) string {
	cmd, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("Unknown command: %s\n\nUse /help to see available commands.", normalizeName(name))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "/%s\n", cmd.Name)
	if cmd.Description != "" {
		fmt.Fprintf(&sb, "%s\n", cmd.Description)
	}
	if cmd.Usage != "" {
		fmt.Fprintf(&sb, "\nUsage: %s\n", cmd.Usage)
	}
	if len(cmd.Aliases) > 0 {
		fmt.Fprintf(&sb, "\nAliases: /%s\n", strings.Join(cmd.Aliases, ", /"))
	}
	if cmd.SessionScoped {
		if sessionKey == "" {
			sb.WriteString("\nScope: the default session\n")
		} else {
			fmt.Fprintf(&sb, "\nScope: session %q\n", sessionKey)
		}
	}
	return sb.String()
}

func categoryTitle(category string) string {
	switch category {
	case CategoryPolicy:
		return "Command policy"
	case "":
		return "Other"
	}
	return strings.ToUpper(category[:1]) + category[1:]
}
