package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	defaultBedrockRegion = "us-east-1"
	defaultBedrockModel  = "anthropic.claude-3-5-sonnet-20240620-v1:0"
)

// bedrockClient is the part of the Bedrock runtime client the adapter uses.
type bedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockAdapter calls Anthropic models hosted on AWS Bedrock.
type BedrockAdapter struct {
	id     string
	model  string
	client bedrockClient
}

// NewBedrock loads the default AWS configuration for spec.Region.
func NewBedrock(spec Spec) (*BedrockAdapter, error) {
	region := spec.Region
	if region == "" {
		region = defaultBedrockRegion
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}

	return newBedrockWithClient(spec, bedrockruntime.NewFromConfig(awsCfg)), nil
}

func newBedrockWithClient(spec Spec, client bedrockClient) *BedrockAdapter {
	model := spec.Model
	if model == "" {
		model = defaultBedrockModel
	}
	return &BedrockAdapter{id: spec.ID, model: model, client: client}
}

func (a *BedrockAdapter) ID() string {
	return a.id
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float64          `json:"temperature,omitempty"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Call invokes the model with an Anthropic messages body
func (a *BedrockAdapter) Call(ctx context.Context, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	body := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		System:           req.Prompt.System,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = 1024
	}
	for _, msg := range req.Prompt.Messages {
		switch msg.Role {
		case RoleAssistant:
			body.Messages = append(body.Messages, bedrockMessage{Role: "assistant", Content: msg.Content})
		case RoleTool:
			body.Messages = append(body.Messages, bedrockMessage{Role: "user", Content: toolResultText(msg)})
		default:
			body.Messages = append(body.Messages, bedrockMessage{Role: "user", Content: msg.Content})
		}
	}

	requestJSON, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("bedrock %s: %w", a.id, err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return "", fmt.Errorf("bedrock %s: failed to unmarshal response: %w", a.id, err)
	}

	content := ""
	for _, c := range resp.Content {
		if c.Type == "" || c.Type == "text" {
			content += c.Text
		}
	}
	if content == "" {
		return "", fmt.Errorf("bedrock %s: empty response", a.id)
	}
	return content, nil
}
