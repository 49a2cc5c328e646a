package loop

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mirrorlake/steward/pkg/policy"
)

func newEngine(t *testing.T) (*policy.Engine, string) {
	t.Helper()
	root := t.TempDir()
	engine, err := policy.NewEngine(root, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, root
}

func TestReadFileTool(t *testing.T) {
	engine, root := newEngine(t)
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tool := &ReadFileTool{engine: engine}
	res, err := tool.Handle(context.Background(), ToolCall{Arguments: `{"path":"notes.txt"}`})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.IsError || res.Content != "hello" {
		t.Fatalf("result = %+v, want hello", res)
	}
}

func TestReadFileToolDeniedOutsideWorkspace(t *testing.T) {
	engine, _ := newEngine(t)

	tool := &ReadFileTool{engine: engine}
	res, err := tool.Handle(context.Background(), ToolCall{Arguments: `{"path":"../../etc/passwd"}`})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.IsError {
		t.Fatal("escape path should be denied")
	}
	if !strings.Contains(res.Content, "denied") {
		t.Fatalf("result content = %q, want denial", res.Content)
	}
}

func TestReadFileToolMissingFileIsResultError(t *testing.T) {
	engine, _ := newEngine(t)

	tool := &ReadFileTool{engine: engine}
	res, err := tool.Handle(context.Background(), ToolCall{Arguments: `{"path":"absent.txt"}`})
	if err != nil {
		t.Fatalf("missing file should be a result error, not a handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("missing file should set IsError")
	}
}

func TestReadFileToolInvalidArguments(t *testing.T) {
	engine, _ := newEngine(t)

	tool := &ReadFileTool{engine: engine}
	if _, err := tool.Handle(context.Background(), ToolCall{Arguments: "not json"}); err == nil {
		t.Fatal("invalid JSON arguments should be a handler error")
	}
}

func TestWriteFileTool(t *testing.T) {
	engine, root := newEngine(t)

	tool := &WriteFileTool{engine: engine}
	res, err := tool.Handle(context.Background(), ToolCall{
		Arguments: `{"path":"out.txt","content":"written"}`,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.IsError {
		t.Fatalf("result = %+v", res)
	}

	data, err := os.ReadFile(filepath.Join(root, "out.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "written" {
		t.Fatalf("file content = %q", data)
	}
}

func TestListDirToolDefaultsToRoot(t *testing.T) {
	engine, root := newEngine(t)
	if err := os.WriteFile(filepath.Join(root, "a.txt"), nil, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatalf("mkdir fixture: %v", err)
	}

	tool := &ListDirTool{engine: engine}
	res, err := tool.Handle(context.Background(), ToolCall{Arguments: `{}`})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(res.Content, "a.txt") || !strings.Contains(res.Content, "sub/") {
		t.Fatalf("listing = %q", res.Content)
	}
}

func TestExecCommandTool(t *testing.T) {
	engine, root := newEngine(t)
	if err := os.WriteFile(filepath.Join(root, "data.txt"), []byte("one\ntwo\n"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	tool := &ExecCommandTool{engine: engine}
	res, err := tool.Handle(context.Background(), ToolCall{
		Arguments: `{"command":["cat","data.txt"]}`,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.IsError || res.Content != "one\ntwo\n" {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecCommandToolDeniesUnlistedBinary(t *testing.T) {
	engine, _ := newEngine(t)

	tool := &ExecCommandTool{engine: engine}
	res, err := tool.Handle(context.Background(), ToolCall{
		Arguments: `{"command":["rm","-rf","/"]}`,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "denied") {
		t.Fatalf("result = %+v, want denial", res)
	}
}

func TestDefaultToolsNames(t *testing.T) {
	engine, _ := newEngine(t)

	want := map[string]bool{"read_file": true, "write_file": true, "list_dir": true, "exec_command": true}
	for _, h := range DefaultTools(engine) {
		if !want[h.Name()] {
			t.Fatalf("unexpected tool %q", h.Name())
		}
		delete(want, h.Name())
	}
	if len(want) != 0 {
		t.Fatalf("missing tools: %v", want)
	}
}
