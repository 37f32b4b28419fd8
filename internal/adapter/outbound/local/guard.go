// Package local implements the execution gateway and dry-run simulator for
// the builtin tool set, operating directly on the local filesystem and
// process table.
package local

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Sentinel errors for guard refusals.
var (
	// ErrPathDenied is returned for paths outside the allowed roots.
	ErrPathDenied = errors.New("path outside allowed roots")
	// ErrCommandDenied is returned for commands missing from the whitelist.
	ErrCommandDenied = errors.New("command not whitelisted")
)

// Guard confines the local adapters to a set of path roots and a command
// whitelist. Policy decides whether a call runs; the guard decides whether
// the local machine will honor it at all.
type Guard struct {
	roots    []string
	commands map[string]struct{}
}

// NewGuard creates a guard. Empty roots allow any path; empty commands deny
// every command.
func NewGuard(roots, commands []string) *Guard {
	g := &Guard{commands: make(map[string]struct{}, len(commands))}
	for _, r := range roots {
		g.roots = append(g.roots, filepath.Clean(r))
	}
	for _, c := range commands {
		g.commands[c] = struct{}{}
	}
	return g
}

// DefaultCommands is the stock command whitelist: common read-mostly shell
// utilities and the build tools a coding agent actually needs.
func DefaultCommands() []string {
	return []string{
		"ls", "cat", "grep", "find", "echo", "pwd", "wc", "head", "tail",
		"git", "go", "make", "npm", "node", "python3", "cargo",
	}
}

// CheckPath verifies the path falls under one of the allowed roots.
func (g *Guard) CheckPath(path string) error {
	if len(g.roots) == 0 {
		return nil
	}
	clean := filepath.Clean(path)
	for _, root := range g.roots {
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrPathDenied, path)
}

// CheckCommand verifies the command is whitelisted. Only the bare command
// name is checked; callers must not pass paths ("/bin/sh") through.
func (g *Guard) CheckCommand(command string) error {
	if strings.ContainsRune(command, filepath.Separator) {
		return fmt.Errorf("%w: %s (command paths are not allowed)", ErrCommandDenied, command)
	}
	if _, ok := g.commands[command]; !ok {
		return fmt.Errorf("%w: %s", ErrCommandDenied, command)
	}
	return nil
}
