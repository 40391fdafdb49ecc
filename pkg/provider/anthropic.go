package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-sonnet-latest"

// AnthropicAdapter calls the Anthropic Messages API.
type AnthropicAdapter struct {
	id     string
	model  string
	client anthropic.Client
}

// NewAnthropic creates an Anthropic adapter.
func NewAnthropic(spec Spec) *AnthropicAdapter {
	opts := []option.RequestOption{
		option.WithAPIKey(spec.APIKey),
		option.WithMaxRetries(0),
	}
	if spec.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(spec.BaseURL))
	}
	model := spec.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicAdapter{
		id:     spec.ID,
		model:  model,
		client: anthropic.NewClient(opts...),
	}
}

func (a *AnthropicAdapter) ID() string {
	return a.id
}

// Call makes an API call to Anthropic
func (a *AnthropicAdapter) Call(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	messages := make([]anthropic.MessageParam, 0, len(req.Prompt.Messages))
	for _, msg := range req.Prompt.Messages {
		switch msg.Role {
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleTool:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(toolResultText(msg))))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.Prompt.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.Prompt.System},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	response, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic %s: %w", a.id, err)
	}

	content := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}
	if content == "" {
		return "", fmt.Errorf("anthropic %s: empty response", a.id)
	}
	return content, nil
}
