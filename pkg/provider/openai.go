package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultLocalModel  = "llama3.1"
)

// OpenAIAdapter calls an OpenAI-compatible chat completions endpoint.
type OpenAIAdapter struct {
	id     string
	model  string
	client openai.Client
}

// NewOpenAI creates an adapter for the OpenAI API.
func NewOpenAI(spec Spec) *OpenAIAdapter {
	if spec.Model == "" {
		spec.Model = defaultOpenAIModel
	}
	return newOpenAICompatible(spec)
}

// NewLocal creates an adapter for a local OpenAI-compatible server such as
// Ollama or llama.cpp. No API key is required.
func NewLocal(spec Spec) *OpenAIAdapter {
	if spec.Model == "" {
		spec.Model = defaultLocalModel
	}
	if spec.APIKey == "" {
		spec.APIKey = "local"
	}
	return newOpenAICompatible(spec)
}

func newOpenAICompatible(spec Spec) *OpenAIAdapter {
	opts := []option.RequestOption{
		option.WithAPIKey(spec.APIKey),
		option.WithMaxRetries(0),
	}
	if spec.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(spec.BaseURL))
	}
	return &OpenAIAdapter{
		id:     spec.ID,
		model:  spec.Model,
		client: openai.NewClient(opts...),
	}
}

func (a *OpenAIAdapter) ID() string {
	return a.id
}

// Call makes a chat completion call
func (a *OpenAIAdapter) Call(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.Prompt.System != "" {
		messages = append(messages, openai.SystemMessage(req.Prompt.System))
	}
	for _, msg := range req.Prompt.Messages {
		switch msg.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case RoleTool:
			messages = append(messages, openai.UserMessage(toolResultText(msg)))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	response, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", a.id, err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("openai %s: no response choices returned", a.id)
	}

	content := response.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("openai %s: empty response", a.id)
	}
	return content, nil
}
