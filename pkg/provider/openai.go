package provider

import (
	"context"
	"fmt"

	"github.com/mirrorlake/steward/pkg/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider adapts OpenAI models to the Provider interface.
type OpenAIProvider struct {
	info    Info
	apiKey  string
	client  openai.Client
	streams *streamTable
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(info Info, apiKey string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if info.Name == "" {
		info.Name = "openai"
	}
	if info.Model == "" {
		info.Model = "gpt-5.2-instant"
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{
		info:    info,
		apiKey:  apiKey,
		client:  client,
		streams: newStreamTable(),
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return p.info.Name }

// Rank returns the provider's routing rank.
func (p *OpenAIProvider) Rank() int { return p.info.Rank }

// Capabilities returns the advertised capability tags.
func (p *OpenAIProvider) Capabilities() []schema.Capability { return p.info.Capabilities }

// CostTier returns the provider's cost tier.
func (p *OpenAIProvider) CostTier() schema.CostTier { return p.info.CostTier }

// IsAvailable reports whether the provider is configured for use.
func (p *OpenAIProvider) IsAvailable() bool { return p.apiKey != "" }

// CheckAuth verifies credentials are present.
func (p *OpenAIProvider) CheckAuth(_ context.Context) (AuthStatus, error) {
	if p.apiKey == "" {
		return AuthStatus{Detail: "missing API key"}, nil
	}
	return AuthStatus{Authenticated: true}, nil
}

// QuotaStatus reports quota state; the API does not expose one up front.
func (p *OpenAIProvider) QuotaStatus(_ context.Context) (QuotaStatus, error) {
	return QuotaStatus{}, nil
}

// Execute sends the prompt to OpenAI and streams the response as events.
func (p *OpenAIProvider) Execute(ctx context.Context, task *schema.TaskContext, prompt string) (*Stream, error) {
	stream := NewStream()
	p.streams.track(task.JobID, stream)

	go func() {
		defer p.streams.drop(task.JobID)
		defer stream.Close(nil)

		messages := []openai.ChatCompletionMessageParamUnion{}
		if task.SystemPrompt != "" {
			messages = append(messages, openai.SystemMessage(task.SystemPrompt))
		}
		messages = append(messages, openai.UserMessage(prompt))

		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:               openai.ChatModel(p.info.Model),
			Messages:            messages,
			MaxCompletionTokens: openai.Int(4096),
		})
		if err != nil {
			stream.Close(fmt.Errorf("openai API error: %w", err))
			return
		}
		if len(resp.Choices) == 0 {
			stream.Close(fmt.Errorf("openai returned no choices"))
			return
		}

		if !stream.Emit(ctx, schema.NewEvent(schema.EventText, resp.Choices[0].Message.Content)) {
			return
		}
		stream.Emit(ctx, schema.NewEvent(schema.EventDone, ""))
	}()

	return stream, nil
}

// Abort cancels the in-flight stream for a job.
func (p *OpenAIProvider) Abort(jobID string) {
	p.streams.abort(jobID)
}
