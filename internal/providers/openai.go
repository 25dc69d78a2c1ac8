package providers

import (
	"context"
	"fmt"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
)

// Options tunes completion requests for every provider.
type Options struct {
	MaxOutputTokens int           // 0 = provider default
	Temperature     float32       // 0 = provider default
	Timeout         time.Duration // per call; 0 = DefaultTimeout
}

// OpenAIClient implements engine.ModelClient for OpenAI and every
// OpenAI-compatible endpoint.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	baseURL string
	opts    Options
}

// NewOpenAIClient creates a new OpenAI client. An empty baseURL targets
// api.openai.com.
func NewOpenAIClient(apiKey, modelName, baseURL string, opts Options) (*OpenAIClient, error) {
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	client := openai.NewClientWithConfig(config)

	return &OpenAIClient{
		client:  client,
		model:   modelName,
		baseURL: baseURL,
		opts:    opts,
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Chat implements engine.ModelClient.
func (c *OpenAIClient) Chat(ctx context.Context, messages []engine.Message) (engine.ModelResponse, error) {
	openaiMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case engine.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case engine.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			role = openai.ChatMessageRoleUser
		}
		content := msg.Content
		if content == "" && msg.Role == engine.RoleAssistant {
			// The SDK serializes "" as null, which the API rejects.
			content = " "
		}
		openaiMsgs = append(openaiMsgs, openai.ChatCompletionMessage{Role: role, Content: content})
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: openaiMsgs,
	}
	if c.opts.MaxOutputTokens > 0 {
		req.MaxTokens = c.opts.MaxOutputTokens
	}
	if c.opts.Temperature > 0 {
		temperature := c.opts.Temperature
		req.Temperature = &temperature
	}

	callCtx, cancel := withTimeout(ctx, c.opts)
	defer cancel()
	resp, err := c.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return engine.ModelResponse{}, callError(ctx, callCtx, c.opts, err)
	}

	if len(resp.Choices) == 0 {
		return engine.ModelResponse{}, fmt.Errorf("empty response from OpenAI")
	}

	return engine.ModelResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: engine.Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
	}, nil
}
