package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/mirrorlake/steward/pkg/schema"
)

// PromptState accumulates prompt sections as stages run.
type PromptState struct {
	Task     *schema.TaskContext
	Bundle   *schema.HandoffBundle
	Sections []string
}

// PromptStage contributes one section to the assembled prompt. Stages run in
// order; a failing stage is logged and skipped so a broken stage can never
// break task execution.
type PromptStage struct {
	Name  string
	Apply func(ctx context.Context, state *PromptState) error
}

// DefaultPromptStages assembles memory context, any handoff bundle, the task
// text, and the pending steering tail, in that order.
func DefaultPromptStages() []PromptStage {
	return []PromptStage{
		{Name: "memory", Apply: memoryStage},
		{Name: "handoff", Apply: handoffStage},
		{Name: "task", Apply: taskStage},
		{Name: "steering", Apply: steeringStage},
	}
}

func memoryStage(_ context.Context, state *PromptState) error {
	if len(state.Task.MemoryContext) == 0 {
		return nil
	}
	state.Sections = append(state.Sections,
		"Relevant context from memory:\n"+strings.Join(state.Task.MemoryContext, "\n"))
	return nil
}

func handoffStage(_ context.Context, state *PromptState) error {
	if state.Bundle == nil {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(state.Bundle.Context.Summary)
	if len(state.Bundle.Context.Progress) > 0 {
		sb.WriteString("\n\nProgress so far:\n")
		for _, step := range state.Bundle.Context.Progress {
			sb.WriteString("- ")
			sb.WriteString(step)
			sb.WriteString("\n")
		}
	}
	if len(state.Bundle.ToolHistory) > 0 {
		sb.WriteString("\nTool calls already made:\n")
		for _, inv := range state.Bundle.ToolHistory {
			sb.WriteString(fmt.Sprintf("- %s(%s) -> %s\n", inv.Tool, inv.Arguments, inv.Result))
		}
	}
	state.Sections = append(state.Sections, sb.String())
	return nil
}

func taskStage(_ context.Context, state *PromptState) error {
	state.Sections = append(state.Sections, state.Task.Task)
	return nil
}

// steeringStage appends steering events already recorded in history so a
// restarted generation sees the operator's latest direction.
func steeringStage(_ context.Context, state *PromptState) error {
	var steer []string
	for _, ev := range state.Task.History {
		if ev.Type == schema.EventSteering {
			steer = append(steer, ev.Content)
		}
	}
	if len(steer) == 0 {
		return nil
	}
	state.Sections = append(state.Sections,
		"Operator steering (most recent last):\n"+strings.Join(steer, "\n"))
	return nil
}

// buildPrompt runs the stage pipeline. Stage failures are logged and the
// stage's contribution skipped; the pipeline itself never fails.
func (l *Loop) buildPrompt(ctx context.Context, task *schema.TaskContext) string {
	state := &PromptState{Task: task, Bundle: l.bundle}
	for _, stage := range l.stages {
		if err := stage.Apply(ctx, state); err != nil {
			l.logger.Warn("prompt stage failed",
				"job_id", task.JobID,
				"stage", stage.Name,
				"error", err)
		}
	}
	return strings.Join(state.Sections, "\n\n")
}
