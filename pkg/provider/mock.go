package provider

import (
	"context"
	"sync"

	"github.com/mirrorlake/steward/pkg/schema"
)

// MockSession scripts one Execute call on a MockProvider.
type MockSession struct {
	// ExecuteErr, when set, is returned from Execute before any stream opens.
	ExecuteErr error
	// Events are emitted in order.
	Events []schema.AgentEvent
	// CloseErr closes the stream as failed after the scripted events.
	CloseErr error
}

// MockProvider returns scripted event streams for local runs and tests.
type MockProvider struct {
	info      Info
	Available bool
	Auth      AuthStatus
	Quota     QuotaStatus

	mu          sync.Mutex
	sessions    []MockSession
	calls       int
	prompts     []string
	abortedJobs []string
	streams     *streamTable
}

// NewMockProvider creates an available mock with the given metadata.
func NewMockProvider(info Info, sessions ...MockSession) *MockProvider {
	if info.Name == "" {
		info.Name = "mock"
	}
	return &MockProvider{
		info:      info,
		Available: true,
		Auth:      AuthStatus{Authenticated: true},
		sessions:  sessions,
		streams:   newStreamTable(),
	}
}

// Name returns the provider identifier.
func (p *MockProvider) Name() string { return p.info.Name }

// Rank returns the provider's routing rank.
func (p *MockProvider) Rank() int { return p.info.Rank }

// Capabilities returns the advertised capability tags.
func (p *MockProvider) Capabilities() []schema.Capability { return p.info.Capabilities }

// CostTier returns the provider's cost tier.
func (p *MockProvider) CostTier() schema.CostTier { return p.info.CostTier }

// IsAvailable reports the scripted availability.
func (p *MockProvider) IsAvailable() bool { return p.Available }

// CheckAuth returns the scripted auth status.
func (p *MockProvider) CheckAuth(_ context.Context) (AuthStatus, error) {
	return p.Auth, nil
}

// QuotaStatus returns the scripted quota status.
func (p *MockProvider) QuotaStatus(_ context.Context) (QuotaStatus, error) {
	return p.Quota, nil
}

// Execute plays the next scripted session. The last session repeats once the
// script runs out; with no script at all, the stream emits a single text
// event and completes.
func (p *MockProvider) Execute(ctx context.Context, task *schema.TaskContext, prompt string) (*Stream, error) {
	p.mu.Lock()
	session := MockSession{
		Events: []schema.AgentEvent{
			schema.NewEvent(schema.EventText, "mock response: "+prompt),
			schema.NewEvent(schema.EventDone, ""),
		},
	}
	if len(p.sessions) > 0 {
		idx := p.calls
		if idx >= len(p.sessions) {
			idx = len(p.sessions) - 1
		}
		session = p.sessions[idx]
	}
	p.calls++
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	if session.ExecuteErr != nil {
		return nil, session.ExecuteErr
	}

	stream := NewStream()
	p.streams.track(task.JobID, stream)

	go func() {
		defer p.streams.drop(task.JobID)
		for _, ev := range session.Events {
			if !stream.Emit(ctx, ev) {
				stream.Close(nil)
				return
			}
		}
		stream.Close(session.CloseErr)
	}()

	return stream, nil
}

// Abort cancels the in-flight stream for a job and records the call.
func (p *MockProvider) Abort(jobID string) {
	p.mu.Lock()
	p.abortedJobs = append(p.abortedJobs, jobID)
	p.mu.Unlock()
	p.streams.abort(jobID)
}

// Calls returns how many times Execute ran.
func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Prompts returns the prompts passed to Execute, in order.
func (p *MockProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// AbortedJobs returns the job IDs passed to Abort, in order.
func (p *MockProvider) AbortedJobs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.abortedJobs...)
}
