package providers

import (
	"context"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
)

// AnthropicClient implements engine.ModelClient with the Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
	opts   Options
}

// NewAnthropicClient creates a new Anthropic client. baseURL is optional.
func NewAnthropicClient(apiKey, modelName, baseURL string, opts Options) (*AnthropicClient, error) {
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	var clientOpts []anthropic.ClientOption
	if baseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(apiKey, clientOpts...)

	return &AnthropicClient{
		client: client,
		model:  modelName,
		opts:   opts,
	}, nil
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string { return c.model }

// Chat implements engine.ModelClient.
func (c *AnthropicClient) Chat(ctx context.Context, messages []engine.Message) (engine.ModelResponse, error) {
	var systemParts []anthropic.MessageSystemPart
	var anthropicMsgs []anthropic.Message

	for _, msg := range messages {
		if msg.Role == engine.RoleSystem {
			systemParts = append(systemParts, anthropic.MessageSystemPart{
				Type: "text",
				Text: msg.Content,
			})
			continue
		}
		if msg.Content == "" {
			continue
		}
		role := anthropic.RoleUser
		if msg.Role == engine.RoleAssistant {
			role = anthropic.RoleAssistant
		}
		block := anthropic.NewTextMessageContent(msg.Content)
		// The API requires alternating roles; fold runs of one role together.
		if n := len(anthropicMsgs); n > 0 && anthropicMsgs[n-1].Role == role {
			anthropicMsgs[n-1].Content = append(anthropicMsgs[n-1].Content, block)
			continue
		}
		anthropicMsgs = append(anthropicMsgs, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{block},
		})
	}

	maxTokens := 4096
	if c.opts.MaxOutputTokens > 0 {
		maxTokens = c.opts.MaxOutputTokens
	}

	temperature := float32(0.1)
	if c.opts.Temperature > 0 {
		temperature = c.opts.Temperature
	}

	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		Messages:    anthropicMsgs,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if len(systemParts) > 0 {
		req.MultiSystem = systemParts
	}

	callCtx, cancel := withTimeout(ctx, c.opts)
	defer cancel()
	resp, err := c.client.CreateMessages(callCtx, req)
	if err != nil {
		return engine.ModelResponse{}, callError(ctx, callCtx, c.opts, err)
	}

	var textContent string
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			textContent += *block.Text
		}
	}

	return engine.ModelResponse{
		Content: textContent,
		Usage: engine.Usage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}
