package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
)

// OllamaClient implements engine.ModelClient against a local Ollama server
// using its native chat API.
type OllamaClient struct {
	client *api.Client
	model  string
	opts   Options
}

// NewOllamaClient creates an Ollama client. An empty baseURL reads
// OLLAMA_HOST from the environment.
func NewOllamaClient(modelName, baseURL string, opts Options) (*OllamaClient, error) {
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	var client *api.Client
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		client = api.NewClient(u, http.DefaultClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

	return &OllamaClient{
		client: client,
		model:  modelName,
		opts:   opts,
	}, nil
}

// Model returns the configured model name.
func (o *OllamaClient) Model() string { return o.model }

// Chat implements engine.ModelClient.
func (o *OllamaClient) Chat(ctx context.Context, messages []engine.Message) (engine.ModelResponse, error) {
	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Content})
	}

	options := map[string]any{}
	if o.opts.Temperature > 0 {
		options["temperature"] = o.opts.Temperature
	}
	if o.opts.MaxOutputTokens > 0 {
		options["num_predict"] = o.opts.MaxOutputTokens
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
		Options:  options,
	}

	var (
		content strings.Builder
		usage   engine.Usage
	)
	callCtx, cancel := withTimeout(ctx, o.opts)
	defer cancel()
	err := o.client.Chat(callCtx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			usage = engine.Usage{
				Prompt:     resp.PromptEvalCount,
				Completion: resp.EvalCount,
				Total:      resp.PromptEvalCount + resp.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return engine.ModelResponse{}, engine.WrapLLMError(err, statusErr.StatusCode, "")
		}
		return engine.ModelResponse{}, callError(ctx, callCtx, o.opts, err)
	}

	return engine.ModelResponse{Content: content.String(), Usage: usage}, nil
}
