// Package loop drives one task to completion: it streams provider events,
// dispatches tool calls, persists every event, and folds in mid-flight
// human steering.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mirrorlake/steward/pkg/provider"
	"github.com/mirrorlake/steward/pkg/schema"
	"github.com/mirrorlake/steward/pkg/session"
	"github.com/mirrorlake/steward/pkg/steering"
)

// DefaultMaxTurns bounds a task unless its context overrides it.
const DefaultMaxTurns = 200

// Status is the terminal state of one Run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Outcome reports how a run ended. Err carries the underlying provider
// error, when there was one, so the caller can classify it for failover;
// the failure itself is already persisted as an error event.
type Outcome struct {
	Status Status
	Err    error
	Turns  int
}

// Loop executes tasks against a single provider.
type Loop struct {
	provider provider.Provider
	log      *session.Log
	steering steering.Source
	tools    map[string]ToolHandler
	stages   []PromptStage
	logger   *slog.Logger
	maxTurns int
	bundle   *schema.HandoffBundle
}

// Option configures a Loop.
type Option func(*Loop)

// WithTools registers the tool handlers available for dispatch. The
// name-to-handler table is built once, here.
func WithTools(handlers ...ToolHandler) Option {
	return func(l *Loop) {
		for _, h := range handlers {
			l.tools[h.Name()] = h
		}
	}
}

// WithLogger sets the loop's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMaxTurns overrides the default turn budget.
func WithMaxTurns(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxTurns = n
		}
	}
}

// WithHandoff supplies a failover continuity bundle rendered into the
// opening prompt.
func WithHandoff(bundle *schema.HandoffBundle) Option {
	return func(l *Loop) {
		l.bundle = bundle
	}
}

// WithPromptStages replaces the default prompt pipeline.
func WithPromptStages(stages ...PromptStage) Option {
	return func(l *Loop) {
		l.stages = stages
	}
}

// New creates an execution loop for one provider.
func New(p provider.Provider, log *session.Log, src steering.Source, opts ...Option) *Loop {
	l := &Loop{
		provider: p,
		log:      log,
		steering: src,
		tools:    make(map[string]ToolHandler),
		stages:   DefaultPromptStages(),
		logger:   slog.Default(),
		maxTurns: DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drives the task until done, terminal error, or turn exhaustion. It
// never returns an error: every failure is converted into a persisted error
// event, and the Outcome mirrors what the event stream already says.
func (l *Loop) Run(ctx context.Context, task *schema.TaskContext) Outcome {
	maxTurns := l.maxTurns
	if task.MaxTurns > 0 {
		maxTurns = task.MaxTurns
	}

	turns := 0
	for {
		// Steering queued before (or between) generations is folded into
		// history so the next prompt sees it.
		l.drainSteering(task)

		prompt := l.buildPrompt(ctx, task)
		stream, err := l.provider.Execute(ctx, task, prompt)
		if err != nil {
			l.failTask(task, fmt.Sprintf("provider %s failed: %v", l.provider.Name(), err))
			return Outcome{Status: StatusFailed, Err: err, Turns: turns}
		}

		restart := false
		finished := false
		var terminalErr error

		for ev := range stream.Events() {
			l.record(task, ev)

			switch ev.Type {
			case schema.EventToolCall:
				turns++
				l.dispatchTool(ctx, task, ev)
			case schema.EventText, schema.EventThinking:
				turns++
			case schema.EventDone:
				finished = true
			case schema.EventError:
				finished = true
				terminalErr = errors.New(ev.Content)
			}
			if finished {
				break
			}

			if turns >= maxTurns {
				l.provider.Abort(task.JobID)
				l.failTask(task, fmt.Sprintf("Maximum turns (%d) reached", maxTurns))
				return Outcome{
					Status: StatusFailed,
					Err:    fmt.Errorf("maximum turns (%d) reached", maxTurns),
					Turns:  turns,
				}
			}

			// Steering always wins over an in-progress generation: abort
			// the in-flight call and restart with updated history. The
			// unflushed tail of this generation is deliberately discarded.
			if l.hasPendingSteering(task.JobID) {
				l.provider.Abort(task.JobID)
				l.drainSteering(task)
				restart = true
				break
			}
		}

		if restart {
			continue
		}

		if terminalErr != nil {
			return Outcome{Status: StatusFailed, Err: terminalErr, Turns: turns}
		}
		if finished {
			return Outcome{Status: StatusCompleted, Turns: turns}
		}

		// Stream ended without done: either the provider call failed, or
		// the session just stopped producing.
		if err := stream.Err(); err != nil {
			l.failTask(task, fmt.Sprintf("provider %s failed: %v", l.provider.Name(), err))
			return Outcome{Status: StatusFailed, Err: err, Turns: turns}
		}
		if stream.Aborted() {
			// Aborted without a steer message queued means the caller
			// cancelled the job outright.
			l.failTask(task, "run aborted")
			return Outcome{Status: StatusFailed, Err: errors.New("run aborted"), Turns: turns}
		}
		return Outcome{Status: StatusCompleted, Turns: turns}
	}
}

// record persists an event and appends it to the task history. Persistence
// failures are logged, not fatal: the in-memory history stays authoritative
// for the rest of the run.
func (l *Loop) record(task *schema.TaskContext, ev schema.AgentEvent) {
	task.AppendEvent(ev)
	if err := l.log.AppendEvent(task.JobID, ev); err != nil {
		l.logger.Warn("failed to persist event",
			"job_id", task.JobID,
			"type", string(ev.Type),
			"error", err)
	}
}

// failTask records a terminal error event.
func (l *Loop) failTask(task *schema.TaskContext, message string) {
	l.record(task, schema.NewEvent(schema.EventError, message))
}

// dispatchTool routes a tool_call event to its handler. Unknown tools get a
// synthetic failure result; a handler error becomes an error event that ends
// the turn but not the task.
func (l *Loop) dispatchTool(ctx context.Context, task *schema.TaskContext, ev schema.AgentEvent) {
	call := ToolCall{ID: ev.CallID, Name: ev.ToolName, Arguments: ev.Arguments}

	handler, ok := l.tools[call.Name]
	if !ok {
		result := schema.NewEvent(schema.EventToolResult, fmt.Sprintf("unknown tool: %s", call.Name))
		result.CallID = call.ID
		result.ToolName = call.Name
		result.IsError = true
		l.record(task, result)
		return
	}

	res, err := handler.Handle(ctx, call)
	if err != nil {
		l.record(task, schema.NewEvent(schema.EventError, fmt.Sprintf("tool %s failed: %v", call.Name, err)))
		return
	}

	result := schema.NewEvent(schema.EventToolResult, res.Content)
	result.CallID = call.ID
	result.ToolName = call.Name
	result.IsError = res.IsError
	l.record(task, result)
}

// drainSteering appends each pending steer message to history as a steering
// event, persists it, and acknowledges it with the source.
func (l *Loop) drainSteering(task *schema.TaskContext) {
	msgs, err := l.steering.PendingMessages(task.JobID)
	if err != nil {
		l.logger.Warn("steering poll failed", "job_id", task.JobID, "error", err)
		return
	}
	for _, msg := range msgs {
		if msg.Kind != schema.MessageKindSteer {
			continue
		}
		l.record(task, schema.NewEvent(schema.EventSteering, msg.Content))
		if err := l.steering.ArchiveMessage(task.JobID, msg.ID); err != nil {
			l.logger.Warn("steering archive failed",
				"job_id", task.JobID,
				"message_id", msg.ID,
				"error", err)
		}
	}
}

func (l *Loop) hasPendingSteering(jobID string) bool {
	msgs, err := l.steering.PendingMessages(jobID)
	if err != nil {
		return false
	}
	for _, msg := range msgs {
		if msg.Kind == schema.MessageKindSteer {
			return true
		}
	}
	return false
}
