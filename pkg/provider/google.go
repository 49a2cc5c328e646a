package provider

import (
	"context"
	"fmt"

	"github.com/mirrorlake/steward/pkg/schema"
	"google.golang.org/genai"
)

// GoogleProvider adapts Gemini models to the Provider interface.
type GoogleProvider struct {
	info    Info
	apiKey  string
	client  *genai.Client
	streams *streamTable
}

// NewGoogleProvider creates a new Google Gemini provider.
func NewGoogleProvider(info Info, apiKey string) (*GoogleProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	if info.Name == "" {
		info.Name = "google"
	}
	if info.Model == "" {
		info.Model = "gemini-2.0-pro"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleProvider{
		info:    info,
		apiKey:  apiKey,
		client:  client,
		streams: newStreamTable(),
	}, nil
}

// Name returns the provider identifier.
func (p *GoogleProvider) Name() string { return p.info.Name }

// Rank returns the provider's routing rank.
func (p *GoogleProvider) Rank() int { return p.info.Rank }

// Capabilities returns the advertised capability tags.
func (p *GoogleProvider) Capabilities() []schema.Capability { return p.info.Capabilities }

// CostTier returns the provider's cost tier.
func (p *GoogleProvider) CostTier() schema.CostTier { return p.info.CostTier }

// IsAvailable reports whether the provider is configured for use.
func (p *GoogleProvider) IsAvailable() bool { return p.apiKey != "" }

// CheckAuth verifies credentials are present.
func (p *GoogleProvider) CheckAuth(_ context.Context) (AuthStatus, error) {
	if p.apiKey == "" {
		return AuthStatus{Detail: "missing API key"}, nil
	}
	return AuthStatus{Authenticated: true}, nil
}

// QuotaStatus reports quota state; the API does not expose one up front.
func (p *GoogleProvider) QuotaStatus(_ context.Context) (QuotaStatus, error) {
	return QuotaStatus{}, nil
}

// Execute sends the prompt to Gemini and streams the response as events.
func (p *GoogleProvider) Execute(ctx context.Context, task *schema.TaskContext, prompt string) (*Stream, error) {
	stream := NewStream()
	p.streams.track(task.JobID, stream)

	go func() {
		defer p.streams.drop(task.JobID)
		defer stream.Close(nil)

		resp, err := p.client.Models.GenerateContent(ctx, p.info.Model, genai.Text(prompt), nil)
		if err != nil {
			stream.Close(fmt.Errorf("google API error: %w", err))
			return
		}
		if resp == nil || len(resp.Candidates) == 0 {
			stream.Close(fmt.Errorf("google returned no candidates"))
			return
		}

		if resp.Candidates[0].Content != nil {
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				if !stream.Emit(ctx, schema.NewEvent(schema.EventText, part.Text)) {
					return
				}
			}
		}
		stream.Emit(ctx, schema.NewEvent(schema.EventDone, ""))
	}()

	return stream, nil
}

// Abort cancels the in-flight stream for a job.
func (p *GoogleProvider) Abort(jobID string) {
	p.streams.abort(jobID)
}
