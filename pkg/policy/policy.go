// Package policy decides whether tool actions against the filesystem and
// shell are allowed.
package policy

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Decision is the boolean contract tool dispatch consumes: allowed with a
// resolved path, or denied with a reason.
type Decision struct {
	Allowed      bool
	ResolvedPath string
	Reason       string
}

// Engine confines file access to a workspace root and shell commands to an
// executable allowlist.
type Engine struct {
	workspaceRoot   string
	allowedCommands map[string]bool
}

// DefaultAllowedCommands is the conservative executable allowlist used when
// the config names none.
var DefaultAllowedCommands = []string{"ls", "cat", "grep", "go", "git", "gofmt"}

// NewEngine creates a policy engine rooted at workspaceRoot.
func NewEngine(workspaceRoot string, allowedCommands []string) (*Engine, error) {
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if len(allowedCommands) == 0 {
		allowedCommands = DefaultAllowedCommands
	}
	allowed := make(map[string]bool, len(allowedCommands))
	for _, cmd := range allowedCommands {
		allowed[cmd] = true
	}
	return &Engine{workspaceRoot: root, allowedCommands: allowed}, nil
}

// WorkspaceRoot returns the confinement root.
func (e *Engine) WorkspaceRoot() string {
	return e.workspaceRoot
}

// CheckPath resolves a path relative to the workspace root and allows it
// only if it stays inside.
func (e *Engine) CheckPath(path string) Decision {
	if path == "" {
		return Decision{Reason: "empty path"}
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(e.workspaceRoot, resolved)
	}
	resolved = filepath.Clean(resolved)

	if resolved != e.workspaceRoot && !strings.HasPrefix(resolved, e.workspaceRoot+string(filepath.Separator)) {
		return Decision{Reason: fmt.Sprintf("path %s escapes the workspace", path)}
	}
	return Decision{Allowed: true, ResolvedPath: resolved}
}

// CheckCommand allows a command only if its executable is on the allowlist
// and no argument escapes the workspace.
func (e *Engine) CheckCommand(command []string) Decision {
	if len(command) == 0 {
		return Decision{Reason: "empty command"}
	}

	exe := filepath.Base(command[0])
	if !e.allowedCommands[exe] {
		return Decision{Reason: fmt.Sprintf("command %q is not allowed", exe)}
	}

	for _, arg := range command[1:] {
		if !looksLikePath(arg) {
			continue
		}
		if d := e.CheckPath(arg); !d.Allowed {
			return Decision{Reason: fmt.Sprintf("argument %q: %s", arg, d.Reason)}
		}
	}
	return Decision{Allowed: true, ResolvedPath: e.workspaceRoot}
}

// looksLikePath flags arguments that reference the filesystem. Flags and
// bare words pass through; confinement only applies to path-shaped values.
func looksLikePath(arg string) bool {
	if arg == "" || strings.HasPrefix(arg, "-") {
		return false
	}
	return strings.HasPrefix(arg, "/") || strings.HasPrefix(arg, "..") || strings.Contains(arg, "../")
}
