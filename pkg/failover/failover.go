package failover

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mirrorlake/steward/pkg/provider"
	"github.com/mirrorlake/steward/pkg/router"
	"github.com/mirrorlake/steward/pkg/schema"
)

// Result names the provider to continue on and the continuity bundle to hand
// it.
type Result struct {
	Provider   provider.Provider
	Bundle     *schema.HandoffBundle
	Classified ClassifiedError
}

// Controller decides whether a failed task can continue on another provider.
type Controller struct {
	providers []provider.Provider
	logger    *slog.Logger
	now       func() time.Time
}

// NewController creates a failover controller over the full provider set.
func NewController(providers []provider.Provider, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		providers: providers,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleFailure classifies the error and, for rate-limit, quota, and auth
// failures, picks the next provider and builds a handoff bundle. It returns
// nil when the category is out of scope or no surviving provider can take
// the task; the caller decides whether to retry or surface the failure.
//
// Candidate selection always walks the ranked list over the surviving
// providers. A fresh router is constructed for each failure so the task's
// original routing mode and model preference cannot leak into the failover
// decision.
func (c *Controller) HandleFailure(task *schema.TaskContext, failedProvider string, cause error) *Result {
	classified := ClassifyError(cause)

	switch classified.Category {
	case CategoryRateLimit, CategoryQuota, CategoryAuth:
	default:
		return nil
	}

	rankWalk := router.New(c.providers,
		router.WithMode(router.ModeRespectRanking),
		router.WithExcluded(failedProvider),
	)

	selection := *task
	selection.ModelPreference = ""

	next, err := rankWalk.SelectProvider(&selection)
	if err != nil {
		c.logger.Warn("no failover candidate",
			"job_id", task.JobID,
			"failed_provider", failedProvider,
			"category", string(classified.Category))
		return nil
	}

	bundle := c.buildBundle(task, failedProvider, next.Name(), classified)
	c.logger.Info("failing over",
		"job_id", task.JobID,
		"from", failedProvider,
		"to", next.Name(),
		"category", string(classified.Category))

	return &Result{Provider: next, Bundle: bundle, Classified: classified}
}

// buildBundle assembles the continuity package from the task's history:
// every text event in order as progress, and tool calls paired with their
// results by call ID, tolerating an unmatched trailing call.
func (c *Controller) buildBundle(task *schema.TaskContext, from, to string, classified ClassifiedError) *schema.HandoffBundle {
	var progress []string
	resultsByCall := make(map[string]string)
	for _, ev := range task.History {
		switch ev.Type {
		case schema.EventText:
			progress = append(progress, ev.Content)
		case schema.EventToolResult:
			if ev.CallID != "" {
				resultsByCall[ev.CallID] = ev.Content
			}
		}
	}

	var toolHistory []schema.ToolInvocation
	for _, ev := range task.History {
		if ev.Type != schema.EventToolCall {
			continue
		}
		toolHistory = append(toolHistory, schema.ToolInvocation{
			Tool:      ev.ToolName,
			Arguments: ev.Arguments,
			Result:    resultsByCall[ev.CallID],
		})
	}

	reason := "quota exhaustion"
	if classified.Category == CategoryAuth {
		reason = "an authentication failure"
	}

	return &schema.HandoffBundle{
		JobID:        task.JobID,
		FromProvider: from,
		ToProvider:   to,
		CreatedAt:    c.now().UTC(),
		Task:         task.Task,
		Context: schema.HandoffContext{
			Summary: fmt.Sprintf(
				"Provider %s failed due to %s; continuing on %s. Resume the task using the progress and tool history below.",
				from, reason, to),
			Progress: progress,
		},
		ToolHistory: toolHistory,
	}
}
