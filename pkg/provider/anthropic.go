package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mirrorlake/steward/pkg/schema"
)

// AnthropicProvider adapts Claude models to the Provider interface.
type AnthropicProvider struct {
	info    Info
	apiKey  string
	client  anthropic.Client
	streams *streamTable
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(info Info, apiKey string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if info.Name == "" {
		info.Name = "anthropic"
	}
	if info.Model == "" {
		info.Model = "claude-sonnet-4-20250514"
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{
		info:    info,
		apiKey:  apiKey,
		client:  client,
		streams: newStreamTable(),
	}, nil
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string { return p.info.Name }

// Rank returns the provider's routing rank.
func (p *AnthropicProvider) Rank() int { return p.info.Rank }

// Capabilities returns the advertised capability tags.
func (p *AnthropicProvider) Capabilities() []schema.Capability { return p.info.Capabilities }

// CostTier returns the provider's cost tier.
func (p *AnthropicProvider) CostTier() schema.CostTier { return p.info.CostTier }

// IsAvailable reports whether the provider is configured for use.
func (p *AnthropicProvider) IsAvailable() bool { return p.apiKey != "" }

// CheckAuth verifies credentials are present.
func (p *AnthropicProvider) CheckAuth(_ context.Context) (AuthStatus, error) {
	if p.apiKey == "" {
		return AuthStatus{Detail: "missing API key"}, nil
	}
	return AuthStatus{Authenticated: true}, nil
}

// QuotaStatus reports quota state; the API does not expose one up front.
func (p *AnthropicProvider) QuotaStatus(_ context.Context) (QuotaStatus, error) {
	return QuotaStatus{}, nil
}

// Execute sends the prompt to Claude and streams the response as events.
func (p *AnthropicProvider) Execute(ctx context.Context, task *schema.TaskContext, prompt string) (*Stream, error) {
	stream := NewStream()
	p.streams.track(task.JobID, stream)

	go func() {
		defer p.streams.drop(task.JobID)
		defer stream.Close(nil)

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(p.info.Model),
			MaxTokens: 4096,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		}
		if task.SystemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: task.SystemPrompt}}
		}

		resp, err := p.client.Messages.New(ctx, params)
		if err != nil {
			stream.Close(fmt.Errorf("anthropic API error: %w", err))
			return
		}

		for _, block := range resp.Content {
			switch block.Type {
			case "thinking":
				if !stream.Emit(ctx, schema.NewEvent(schema.EventThinking, block.Thinking)) {
					return
				}
			case "text":
				if !stream.Emit(ctx, schema.NewEvent(schema.EventText, block.Text)) {
					return
				}
			}
		}
		stream.Emit(ctx, schema.NewEvent(schema.EventDone, ""))
	}()

	return stream, nil
}

// Abort cancels the in-flight stream for a job.
func (p *AnthropicProvider) Abort(jobID string) {
	p.streams.abort(jobID)
}
