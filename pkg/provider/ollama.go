package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mirrorlake/steward/pkg/schema"
)

// OllamaProvider adapts a local Ollama HTTP server to the Provider interface.
type OllamaProvider struct {
	info    Info
	baseURL string
	client  *resty.Client
	streams *streamTable

	mu          sync.Mutex
	lastPing    time.Time
	lastHealthy bool
}

// ollamaGenerateRequest is the /api/generate request body.
type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

// ollamaGenerateResponse is the non-streaming /api/generate response body.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaProvider creates a provider backed by an Ollama server.
func NewOllamaProvider(info Info, baseURL string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if info.Name == "" {
		info.Name = "ollama"
	}
	if info.Model == "" {
		info.Model = "llama3.1"
	}
	if info.CostTier == "" {
		info.CostTier = schema.CostTierFree
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(120 * time.Second)

	return &OllamaProvider{
		info:    info,
		baseURL: baseURL,
		client:  client,
		streams: newStreamTable(),
	}
}

// Name returns the provider identifier.
func (p *OllamaProvider) Name() string { return p.info.Name }

// Rank returns the provider's routing rank.
func (p *OllamaProvider) Rank() int { return p.info.Rank }

// Capabilities returns the advertised capability tags.
func (p *OllamaProvider) Capabilities() []schema.Capability { return p.info.Capabilities }

// CostTier returns the provider's cost tier.
func (p *OllamaProvider) CostTier() schema.CostTier { return p.info.CostTier }

// IsAvailable pings the server, caching the answer for a short window so
// routing does not hammer the local socket.
func (p *OllamaProvider) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastPing) < 30*time.Second {
		return p.lastHealthy
	}

	resp, err := p.client.R().
		SetContext(context.Background()).
		Get("/api/tags")
	p.lastPing = time.Now()
	p.lastHealthy = err == nil && resp.IsSuccess()
	return p.lastHealthy
}

// CheckAuth always succeeds; a local Ollama server has no credentials.
func (p *OllamaProvider) CheckAuth(_ context.Context) (AuthStatus, error) {
	return AuthStatus{Authenticated: true}, nil
}

// QuotaStatus always reports unlimited for a local server.
func (p *OllamaProvider) QuotaStatus(_ context.Context) (QuotaStatus, error) {
	return QuotaStatus{}, nil
}

// Execute sends the prompt to Ollama and streams the response as events.
func (p *OllamaProvider) Execute(ctx context.Context, task *schema.TaskContext, prompt string) (*Stream, error) {
	stream := NewStream()
	p.streams.track(task.JobID, stream)

	go func() {
		defer p.streams.drop(task.JobID)
		defer stream.Close(nil)

		var out ollamaGenerateResponse
		resp, err := p.client.R().
			SetContext(ctx).
			SetBody(ollamaGenerateRequest{
				Model:  p.info.Model,
				Prompt: prompt,
				System: task.SystemPrompt,
			}).
			SetResult(&out).
			Post("/api/generate")
		if err != nil {
			stream.Close(fmt.Errorf("ollama request failed: %w", err))
			return
		}
		if !resp.IsSuccess() {
			stream.Close(&ProviderError{
				Status: resp.StatusCode(),
				Err:    fmt.Errorf("ollama returned %s: %s", resp.Status(), resp.String()),
			})
			return
		}

		if !stream.Emit(ctx, schema.NewEvent(schema.EventText, out.Response)) {
			return
		}
		stream.Emit(ctx, schema.NewEvent(schema.EventDone, ""))
	}()

	return stream, nil
}

// Abort cancels the in-flight stream for a job.
func (p *OllamaProvider) Abort(jobID string) {
	p.streams.abort(jobID)
}
