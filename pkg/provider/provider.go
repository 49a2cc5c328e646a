// Package provider defines the uniform streaming interface over
// interchangeable LLM backends and the concrete adapters behind it.
package provider

import (
	"context"
	"time"

	"github.com/mirrorlake/steward/pkg/schema"
)

// AuthStatus reports whether a provider's credentials are usable.
type AuthStatus struct {
	Authenticated bool
	Detail        string
}

// QuotaStatus reports a provider's remaining quota, when known.
type QuotaStatus struct {
	Limited   bool
	Remaining int
	ResetAt   time.Time
}

// Provider is an interchangeable LLM backend adapter.
type Provider interface {
	// Name returns the provider's identifier.
	Name() string

	// Rank orders providers for ranked routing; lower is better.
	Rank() int

	// Capabilities returns the capability tags this provider advertises.
	Capabilities() []schema.Capability

	// CostTier returns the provider's cost tier.
	CostTier() schema.CostTier

	// IsAvailable reports whether the provider can take work right now.
	IsAvailable() bool

	// CheckAuth verifies the provider's credentials.
	CheckAuth(ctx context.Context) (AuthStatus, error)

	// QuotaStatus returns the provider's quota state.
	QuotaStatus(ctx context.Context) (QuotaStatus, error)

	// Execute opens a streaming session for the task. The prompt is the
	// fully assembled text including memory context and any handoff bundle.
	Execute(ctx context.Context, task *schema.TaskContext, prompt string) (*Stream, error)

	// Abort cancels the in-flight stream for a job, if any. Readers observe
	// the close as an abort, not natural completion.
	Abort(jobID string)
}

// HasCapability reports whether a provider advertises the given tag.
func HasCapability(p Provider, cap schema.Capability) bool {
	for _, c := range p.Capabilities() {
		if c == cap {
			return true
		}
	}
	return false
}

// Info carries adapter metadata shared by every concrete adapter.
type Info struct {
	Name         string
	Rank         int
	Capabilities []schema.Capability
	CostTier     schema.CostTier
	Model        string
}
