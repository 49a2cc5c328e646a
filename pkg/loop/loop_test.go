package loop

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mirrorlake/steward/pkg/provider"
	"github.com/mirrorlake/steward/pkg/schema"
	"github.com/mirrorlake/steward/pkg/session"
	"github.com/mirrorlake/steward/pkg/steering"
)

func newTestLog(t *testing.T) *session.Log {
	t.Helper()
	log, err := session.NewLog(t.TempDir())
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	return log
}

func toolCallEvent(id, name, args string) schema.AgentEvent {
	ev := schema.NewEvent(schema.EventToolCall, "")
	ev.CallID = id
	ev.ToolName = name
	ev.Arguments = args
	return ev
}

// stubTool is a scripted tool handler for dispatch tests.
type stubTool struct {
	name   string
	result ToolResult
	err    error

	mu    sync.Mutex
	calls []ToolCall
}

func (s *stubTool) Name() string { return s.name }

func (s *stubTool) Handle(_ context.Context, call ToolCall) (ToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	return s.result, s.err
}

// pollSource exposes one steer message once it has been polled visibleAt
// times, so tests can inject steering mid-stream deterministically.
type pollSource struct {
	mu        sync.Mutex
	polls     int
	visibleAt int
	msg       schema.Message
	archived  bool
}

func (s *pollSource) PendingMessages(string) ([]schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if !s.archived && s.polls >= s.visibleAt {
		return []schema.Message{s.msg}, nil
	}
	return nil, nil
}

func (s *pollSource) ArchiveMessage(string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived = true
	return nil
}

func TestRunCompletesAndPersistsEvents(t *testing.T) {
	p := provider.NewMockProvider(provider.Info{Name: "mock"}, provider.MockSession{
		Events: []schema.AgentEvent{
			schema.NewEvent(schema.EventThinking, "planning"),
			schema.NewEvent(schema.EventText, "answer"),
			schema.NewEvent(schema.EventDone, ""),
		},
	})
	log := newTestLog(t)
	l := New(p, log, steering.NewMemorySource())

	task := &schema.TaskContext{JobID: "job-1", Task: "say hi"}
	out := l.Run(context.Background(), task)

	if out.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s (err: %v)", out.Status, StatusCompleted, out.Err)
	}
	if out.Turns != 2 {
		t.Fatalf("turns = %d, want 2", out.Turns)
	}

	wantTypes := []schema.EventType{schema.EventThinking, schema.EventText, schema.EventDone}
	if len(task.History) != len(wantTypes) {
		t.Fatalf("history length = %d, want %d", len(task.History), len(wantTypes))
	}
	for i, want := range wantTypes {
		if task.History[i].Type != want {
			t.Fatalf("history[%d].Type = %s, want %s", i, task.History[i].Type, want)
		}
	}

	persisted, err := log.History("job-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(persisted) != len(wantTypes) {
		t.Fatalf("persisted %d events, want %d", len(persisted), len(wantTypes))
	}
}

func TestRunMaxTurnsReached(t *testing.T) {
	p := provider.NewMockProvider(provider.Info{Name: "mock"}, provider.MockSession{
		Events: []schema.AgentEvent{
			schema.NewEvent(schema.EventThinking, "planning"),
			schema.NewEvent(schema.EventText, "never reached"),
			schema.NewEvent(schema.EventDone, ""),
		},
	})
	l := New(p, newTestLog(t), steering.NewMemorySource(), WithMaxTurns(1))

	task := &schema.TaskContext{JobID: "job-2", Task: "loop forever"}
	out := l.Run(context.Background(), task)

	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", out.Status, StatusFailed)
	}
	if out.Err == nil {
		t.Fatal("expected turn limit error")
	}

	last := task.History[len(task.History)-1]
	if last.Type != schema.EventError {
		t.Fatalf("last event type = %s, want error", last.Type)
	}
	if !strings.Contains(last.Content, "Maximum turns (1) reached") {
		t.Fatalf("error content = %q, want turn limit message", last.Content)
	}
	if got := p.AbortedJobs(); len(got) != 1 || got[0] != "job-2" {
		t.Fatalf("aborted jobs = %v, want [job-2]", got)
	}
}

func TestRunTaskMaxTurnsOverridesDefault(t *testing.T) {
	p := provider.NewMockProvider(provider.Info{Name: "mock"}, provider.MockSession{
		Events: []schema.AgentEvent{
			schema.NewEvent(schema.EventText, "one"),
			schema.NewEvent(schema.EventText, "two"),
			schema.NewEvent(schema.EventText, "three"),
			schema.NewEvent(schema.EventDone, ""),
		},
	})
	l := New(p, newTestLog(t), steering.NewMemorySource(), WithMaxTurns(100))

	task := &schema.TaskContext{JobID: "job-3", Task: "short leash", MaxTurns: 2}
	out := l.Run(context.Background(), task)

	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", out.Status, StatusFailed)
	}
	if out.Turns != 2 {
		t.Fatalf("turns = %d, want 2", out.Turns)
	}
}

func TestRunSteeringAbortsAndRestarts(t *testing.T) {
	p := provider.NewMockProvider(provider.Info{Name: "mock"},
		provider.MockSession{
			Events: []schema.AgentEvent{
				schema.NewEvent(schema.EventText, "step one"),
				schema.NewEvent(schema.EventText, "step two"),
				schema.NewEvent(schema.EventText, "step three"),
			},
		},
		provider.MockSession{
			Events: []schema.AgentEvent{
				schema.NewEvent(schema.EventText, "resumed"),
				schema.NewEvent(schema.EventDone, ""),
			},
		},
	)
	// Poll 1 is the pre-stream drain, poll 2 follows the first event.
	src := &pollSource{
		visibleAt: 2,
		msg:       schema.Message{ID: "m1", JobID: "job-4", Kind: schema.MessageKindSteer, Content: "focus on tests"},
	}
	l := New(p, newTestLog(t), src)

	task := &schema.TaskContext{JobID: "job-4", Task: "refactor"}
	out := l.Run(context.Background(), task)

	if out.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s (err: %v)", out.Status, StatusCompleted, out.Err)
	}
	if p.Calls() != 2 {
		t.Fatalf("Execute calls = %d, want 2", p.Calls())
	}
	if got := p.AbortedJobs(); len(got) != 1 || got[0] != "job-4" {
		t.Fatalf("aborted jobs = %v, want [job-4]", got)
	}

	steerIdx, resumedIdx := -1, -1
	for i, ev := range task.History {
		switch {
		case ev.Type == schema.EventSteering:
			steerIdx = i
		case ev.Type == schema.EventText && ev.Content == "resumed":
			resumedIdx = i
		}
	}
	if steerIdx < 0 {
		t.Fatal("steering event not recorded in history")
	}
	if resumedIdx < 0 || resumedIdx < steerIdx {
		t.Fatalf("restart text at %d should follow steering at %d", resumedIdx, steerIdx)
	}

	prompts := p.Prompts()
	if !strings.Contains(prompts[1], "focus on tests") {
		t.Fatalf("restart prompt missing steering content: %q", prompts[1])
	}
}

func TestRunPreStreamSteeringFoldedIn(t *testing.T) {
	p := provider.NewMockProvider(provider.Info{Name: "mock"})
	src := steering.NewMemorySource()
	src.Post("job-5", "prefer small diffs")
	l := New(p, newTestLog(t), src)

	task := &schema.TaskContext{JobID: "job-5", Task: "patch the bug"}
	out := l.Run(context.Background(), task)

	if out.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s (err: %v)", out.Status, StatusCompleted, out.Err)
	}
	if p.Calls() != 1 {
		t.Fatalf("Execute calls = %d, want 1", p.Calls())
	}
	if task.History[0].Type != schema.EventSteering {
		t.Fatalf("history[0].Type = %s, want steering", task.History[0].Type)
	}
	if !strings.Contains(p.Prompts()[0], "prefer small diffs") {
		t.Fatalf("prompt missing steering content: %q", p.Prompts()[0])
	}
	if got := src.Archived("job-5"); len(got) != 1 {
		t.Fatalf("archived %d messages, want 1", len(got))
	}
}

func TestRunDispatchesToolCalls(t *testing.T) {
	p := provider.NewMockProvider(provider.Info{Name: "mock"}, provider.MockSession{
		Events: []schema.AgentEvent{
			toolCallEvent("call-1", "echo", `{"text":"hi"}`),
			schema.NewEvent(schema.EventDone, ""),
		},
	})
	tool := &stubTool{name: "echo", result: ToolResult{Content: "hi"}}
	l := New(p, newTestLog(t), steering.NewMemorySource(), WithTools(tool))

	task := &schema.TaskContext{JobID: "job-6", Task: "use the tool"}
	out := l.Run(context.Background(), task)

	if out.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s (err: %v)", out.Status, StatusCompleted, out.Err)
	}
	if len(tool.calls) != 1 || tool.calls[0].ID != "call-1" {
		t.Fatalf("tool calls = %+v, want one call with ID call-1", tool.calls)
	}

	var result *schema.AgentEvent
	for i := range task.History {
		if task.History[i].Type == schema.EventToolResult {
			result = &task.History[i]
		}
	}
	if result == nil {
		t.Fatal("no tool_result event in history")
	}
	if result.CallID != "call-1" || result.Content != "hi" || result.IsError {
		t.Fatalf("tool_result = %+v, want call-1 / hi / no error", result)
	}
}

func TestRunUnknownToolSyntheticFailure(t *testing.T) {
	p := provider.NewMockProvider(provider.Info{Name: "mock"}, provider.MockSession{
		Events: []schema.AgentEvent{
			toolCallEvent("call-9", "frobnicate", `{}`),
			schema.NewEvent(schema.EventDone, ""),
		},
	})
	l := New(p, newTestLog(t), steering.NewMemorySource())

	task := &schema.TaskContext{JobID: "job-7", Task: "call a tool that does not exist"}
	out := l.Run(context.Background(), task)

	if out.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s (err: %v)", out.Status, StatusCompleted, out.Err)
	}

	var result *schema.AgentEvent
	for i := range task.History {
		if task.History[i].Type == schema.EventToolResult {
			result = &task.History[i]
		}
	}
	if result == nil {
		t.Fatal("no tool_result event in history")
	}
	if !result.IsError {
		t.Fatal("unknown tool result should be marked as error")
	}
	if !strings.Contains(result.Content, "unknown tool: frobnicate") {
		t.Fatalf("result content = %q, want unknown tool message", result.Content)
	}
	if result.CallID != "call-9" {
		t.Fatalf("result CallID = %q, want call-9", result.CallID)
	}
}

func TestRunToolHandlerErrorContinues(t *testing.T) {
	p := provider.NewMockProvider(provider.Info{Name: "mock"}, provider.MockSession{
		Events: []schema.AgentEvent{
			toolCallEvent("call-2", "echo", `{"text":"hi"}`),
			schema.NewEvent(schema.EventText, "carrying on"),
			schema.NewEvent(schema.EventDone, ""),
		},
	})
	tool := &stubTool{name: "echo", err: errors.New("handler broke")}
	l := New(p, newTestLog(t), steering.NewMemorySource(), WithTools(tool))

	task := &schema.TaskContext{JobID: "job-8", Task: "survive a broken tool"}
	out := l.Run(context.Background(), task)

	if out.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s (err: %v)", out.Status, StatusCompleted, out.Err)
	}

	sawHandlerError, sawText := false, false
	for _, ev := range task.History {
		if ev.Type == schema.EventError && strings.Contains(ev.Content, "handler broke") {
			sawHandlerError = true
		}
		if ev.Type == schema.EventText && ev.Content == "carrying on" {
			sawText = true
		}
	}
	if !sawHandlerError {
		t.Fatal("handler error not recorded as error event")
	}
	if !sawText {
		t.Fatal("loop did not continue past the handler error")
	}
}

func TestRunProviderExecuteError(t *testing.T) {
	execErr := errors.New("connection refused")
	p := provider.NewMockProvider(provider.Info{Name: "mock"}, provider.MockSession{
		ExecuteErr: execErr,
	})
	l := New(p, newTestLog(t), steering.NewMemorySource())

	task := &schema.TaskContext{JobID: "job-9", Task: "fail fast"}
	out := l.Run(context.Background(), task)

	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", out.Status, StatusFailed)
	}
	if !errors.Is(out.Err, execErr) {
		t.Fatalf("outcome err = %v, want %v", out.Err, execErr)
	}
	last := task.History[len(task.History)-1]
	if last.Type != schema.EventError || !strings.Contains(last.Content, "connection refused") {
		t.Fatalf("last event = %+v, want error mentioning the cause", last)
	}
}

func TestRunStreamFailure(t *testing.T) {
	streamErr := errors.New("rate limit exceeded")
	p := provider.NewMockProvider(provider.Info{Name: "mock"}, provider.MockSession{
		Events: []schema.AgentEvent{
			schema.NewEvent(schema.EventText, "partial"),
		},
		CloseErr: streamErr,
	})
	l := New(p, newTestLog(t), steering.NewMemorySource())

	task := &schema.TaskContext{JobID: "job-10", Task: "hit a rate limit"}
	out := l.Run(context.Background(), task)

	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", out.Status, StatusFailed)
	}
	if !errors.Is(out.Err, streamErr) {
		t.Fatalf("outcome err = %v, want %v", out.Err, streamErr)
	}
	last := task.History[len(task.History)-1]
	if last.Type != schema.EventError {
		t.Fatalf("last event type = %s, want error", last.Type)
	}
	if len(task.History) < 2 || task.History[0].Content != "partial" {
		t.Fatalf("partial output should be preserved in history: %+v", task.History)
	}
}

func TestRunTerminalErrorEvent(t *testing.T) {
	p := provider.NewMockProvider(provider.Info{Name: "mock"}, provider.MockSession{
		Events: []schema.AgentEvent{
			schema.NewEvent(schema.EventError, "model refused"),
		},
	})
	l := New(p, newTestLog(t), steering.NewMemorySource())

	task := &schema.TaskContext{JobID: "job-11", Task: "trip an in-stream error"}
	out := l.Run(context.Background(), task)

	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", out.Status, StatusFailed)
	}
	if out.Err == nil || !strings.Contains(out.Err.Error(), "model refused") {
		t.Fatalf("outcome err = %v, want model refusal", out.Err)
	}
}

func TestRunHandoffBundleInPrompt(t *testing.T) {
	p := provider.NewMockProvider(provider.Info{Name: "mock"})
	bundle := &schema.HandoffBundle{
		Context: schema.HandoffContext{
			Summary:  "Provider a failed due to rate_limit; continuing on b. Task: fix it",
			Progress: []string{"read the failing test"},
		},
		ToolHistory: []schema.ToolInvocation{
			{Tool: "read_file", Arguments: `{"path":"main.go"}`, Result: "package main"},
		},
	}
	l := New(p, newTestLog(t), steering.NewMemorySource(), WithHandoff(bundle))

	task := &schema.TaskContext{JobID: "job-12", Task: "fix it"}
	out := l.Run(context.Background(), task)

	if out.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s (err: %v)", out.Status, StatusCompleted, out.Err)
	}
	prompt := p.Prompts()[0]
	for _, want := range []string{"continuing on b", "read the failing test", "read_file"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q: %q", want, prompt)
		}
	}
}
