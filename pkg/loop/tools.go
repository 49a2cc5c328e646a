package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mirrorlake/steward/pkg/policy"
)

// ToolCall is one tool invocation requested by the provider.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResult is a handler's structured outcome. IsError marks a failure the
// provider should see and react to, as opposed to a handler error, which the
// loop surfaces as an error event.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolHandler executes one kind of tool call.
type ToolHandler interface {
	// Name returns the tool identifier used in dispatch.
	Name() string

	// Handle runs the call. Returning an error means the handler itself
	// broke; recoverable tool failures go in the result instead.
	Handle(ctx context.Context, call ToolCall) (ToolResult, error)
}

// DefaultTools returns the built-in handler set, all confined by the policy
// engine.
func DefaultTools(engine *policy.Engine) []ToolHandler {
	return []ToolHandler{
		&ReadFileTool{engine: engine},
		&WriteFileTool{engine: engine},
		&ListDirTool{engine: engine},
		&ExecCommandTool{engine: engine},
	}
}

func failure(format string, args ...any) (ToolResult, error) {
	return ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}, nil
}

// ReadFileTool reads a file inside the workspace.
type ReadFileTool struct {
	engine *policy.Engine
}

type pathArgs struct {
	Path string `json:"path"`
}

// Name returns the tool identifier.
func (t *ReadFileTool) Name() string { return "read_file" }

// Handle reads the requested file.
func (t *ReadFileTool) Handle(_ context.Context, call ToolCall) (ToolResult, error) {
	var args pathArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return ToolResult{}, fmt.Errorf("read_file: invalid arguments: %w", err)
	}

	decision := t.engine.CheckPath(args.Path)
	if !decision.Allowed {
		return failure("read_file denied: %s", decision.Reason)
	}

	data, err := os.ReadFile(decision.ResolvedPath)
	if err != nil {
		return failure("read_file failed: %v", err)
	}
	return ToolResult{Content: string(data)}, nil
}

// WriteFileTool writes a file inside the workspace.
type WriteFileTool struct {
	engine *policy.Engine
}

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Name returns the tool identifier.
func (t *WriteFileTool) Name() string { return "write_file" }

// Handle writes the requested file.
func (t *WriteFileTool) Handle(_ context.Context, call ToolCall) (ToolResult, error) {
	var args writeArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return ToolResult{}, fmt.Errorf("write_file: invalid arguments: %w", err)
	}

	decision := t.engine.CheckPath(args.Path)
	if !decision.Allowed {
		return failure("write_file denied: %s", decision.Reason)
	}

	if err := os.WriteFile(decision.ResolvedPath, []byte(args.Content), 0644); err != nil {
		return failure("write_file failed: %v", err)
	}
	return ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path)}, nil
}

// ListDirTool lists a directory inside the workspace.
type ListDirTool struct {
	engine *policy.Engine
}

// Name returns the tool identifier.
func (t *ListDirTool) Name() string { return "list_dir" }

// Handle lists the requested directory.
func (t *ListDirTool) Handle(_ context.Context, call ToolCall) (ToolResult, error) {
	var args pathArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return ToolResult{}, fmt.Errorf("list_dir: invalid arguments: %w", err)
	}
	if args.Path == "" {
		args.Path = "."
	}

	decision := t.engine.CheckPath(args.Path)
	if !decision.Allowed {
		return failure("list_dir denied: %s", decision.Reason)
	}

	entries, err := os.ReadDir(decision.ResolvedPath)
	if err != nil {
		return failure("list_dir failed: %v", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return ToolResult{Content: strings.Join(names, "\n")}, nil
}

// ExecCommandTool runs an allowlisted command in the workspace.
type ExecCommandTool struct {
	engine *policy.Engine
}

type execArgs struct {
	Command []string `json:"command"`
}

// Name returns the tool identifier.
func (t *ExecCommandTool) Name() string { return "exec_command" }

// Handle runs the requested command and returns its combined output.
func (t *ExecCommandTool) Handle(ctx context.Context, call ToolCall) (ToolResult, error) {
	var args execArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return ToolResult{}, fmt.Errorf("exec_command: invalid arguments: %w", err)
	}

	decision := t.engine.CheckCommand(args.Command)
	if !decision.Allowed {
		return failure("exec_command denied: %s", decision.Reason)
	}

	cmd := exec.CommandContext(ctx, args.Command[0], args.Command[1:]...)
	cmd.Dir = t.engine.WorkspaceRoot()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return failure("exec_command failed: %v\n%s", err, out)
	}
	return ToolResult{Content: string(out)}, nil
}
