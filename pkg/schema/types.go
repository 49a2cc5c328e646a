package schema

import (
	"time"
)

// Capability describes the kind of work a provider is suited for.
type Capability string

const (
	CapabilityReasoning      Capability = "reasoning"
	CapabilityCoding         Capability = "coding"
	CapabilitySearch         Capability = "search"
	CapabilityCreative       Capability = "creative"
	CapabilityStructuredData Capability = "structured-data"
	CapabilityLargeContext   Capability = "large-context"
	CapabilityFast           Capability = "fast"
)

// CostTier orders providers by how expensive a call is.
type CostTier string

const (
	CostTierFree     CostTier = "free"
	CostTierIncluded CostTier = "included"
	CostTierMetered  CostTier = "metered"
	CostTierPremium  CostTier = "premium"
)

var costTierOrder = map[CostTier]int{
	CostTierFree:     0,
	CostTierIncluded: 1,
	CostTierMetered:  2,
	CostTierPremium:  3,
}

// Order returns the tier's position on the free < included < metered < premium
// scale. Unknown tiers sort after premium.
func (t CostTier) Order() int {
	if n, ok := costTierOrder[t]; ok {
		return n
	}
	return len(costTierOrder)
}

// Complexity is the classifier's estimate of task difficulty.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// ResourceType classifies what a task is primarily about.
type ResourceType string

const (
	ResourceReasoning ResourceType = "reasoning"
	ResourceCoding    ResourceType = "coding"
	ResourceSearch    ResourceType = "search"
	ResourceCreative  ResourceType = "creative"
	ResourceMixed     ResourceType = "mixed"
)

// EventType discriminates AgentEvent records.
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventSteering   EventType = "steering"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// AgentEvent is one record in a job's event history. Events are strictly
// ordered by emission time within a job; a done or unrecoverable error event
// terminates the run.
type AgentEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content,omitempty"`

	// Tool call/result correlation.
	CallID    string `json:"call_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType EventType, content string) AgentEvent {
	return AgentEvent{Type: eventType, Timestamp: time.Now().UTC(), Content: content}
}

// TaskContext is one work order, tracked by JobID end-to-end. The execution
// loop is the only mutator and only ever appends to History.
type TaskContext struct {
	JobID                string       `json:"job_id"`
	Task                 string       `json:"task"`
	RequiredCapabilities []Capability `json:"required_capabilities,omitempty"`
	Complexity           Complexity   `json:"complexity,omitempty"`
	ResourceType         ResourceType `json:"resource_type,omitempty"`
	SystemPrompt         string       `json:"system_prompt,omitempty"`
	MemoryContext        []string     `json:"memory_context,omitempty"`
	History              []AgentEvent `json:"history,omitempty"`
	MaxTurns             int          `json:"max_turns,omitempty"`
	ModelPreference      string       `json:"model_preference,omitempty"`
	MaxCostTier          CostTier     `json:"max_cost_tier,omitempty"`
}

// AppendEvent records an event in the task's history.
func (t *TaskContext) AppendEvent(ev AgentEvent) {
	t.History = append(t.History, ev)
}

// ToolInvocation pairs a tool call with its result for handoff continuity.
type ToolInvocation struct {
	Tool      string `json:"tool"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`
}

// HandoffContext summarizes progress for the receiving provider.
type HandoffContext struct {
	Summary   string   `json:"summary"`
	Progress  []string `json:"progress,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// HandoffBundle is the continuity package handed to a new provider after
// failover. It is consumed by the new provider's opening prompt and never
// persisted beyond the handoff.
type HandoffBundle struct {
	JobID        string           `json:"job_id"`
	FromProvider string           `json:"from_provider"`
	ToProvider   string           `json:"to_provider"`
	CreatedAt    time.Time        `json:"created_at"`
	Task         string           `json:"task"`
	Context      HandoffContext   `json:"context"`
	ToolHistory  []ToolInvocation `json:"tool_history,omitempty"`
}

// MessageKindSteer marks a steering message that redirects a running task.
const MessageKindSteer = "steer"

// Message is an asynchronously injected human message for a running job.
type Message struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
