// Package providers adapts LLM SDKs to engine.ModelClient.
package providers

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
)

// Settings selects and configures one provider.
type Settings struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Options  Options
}

// compatibleEndpoint describes an OpenAI-compatible provider.
type compatibleEndpoint struct {
	envPrefix    string
	defaultModel string
	baseURL      string
	needsKey     bool
	localKey     string // placeholder key for local servers
}

var compatibleEndpoints = map[string]compatibleEndpoint{
	"openai":   {envPrefix: "OPENAI", defaultModel: "gpt-4o-mini", needsKey: true},
	"deepseek": {envPrefix: "DEEPSEEK", defaultModel: "deepseek-chat", baseURL: "https://api.deepseek.com/v1", needsKey: true},
	"kimi":     {envPrefix: "KIMI", defaultModel: "kimi-k2-250711", baseURL: "https://ark.ap-southeast.bytepluses.com/api/v3", needsKey: true},
	"glm":      {envPrefix: "GLM", defaultModel: "glm-4-plus", baseURL: "https://open.bigmodel.cn/api/paas/v4", needsKey: true},
	"groq":     {envPrefix: "GROQ", defaultModel: "llama-3.1-70b-versatile", baseURL: "https://api.groq.com/openai/v1", needsKey: true},
	"lmstudio": {envPrefix: "LMSTUDIO", defaultModel: "local-model", baseURL: "http://localhost:1234/v1", localKey: "lm-studio"},
}

// SupportedProviders lists every accepted LLM_PROVIDER value.
func SupportedProviders() []string {
	names := []string{"anthropic", "ollama"}
	for name := range compatibleEndpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SettingsFromEnv reads LLM_PROVIDER (default "openai") and the matching
// <PREFIX>_API_KEY, <PREFIX>_MODEL and <PREFIX>_BASE_URL variables.
func SettingsFromEnv() Settings {
	return EnvSettings(firstNonEmpty(os.Getenv("LLM_PROVIDER"), "openai"))
}

// EnvSettings reads the <PREFIX>_* variables of a given provider.
func EnvSettings(provider string) Settings {
	provider = strings.ToLower(provider)
	prefix := strings.ToUpper(provider)
	if ep, ok := compatibleEndpoints[provider]; ok {
		prefix = ep.envPrefix
	}
	return Settings{
		Provider: provider,
		APIKey:   os.Getenv(prefix + "_API_KEY"),
		Model:    os.Getenv(prefix + "_MODEL"),
		BaseURL:  os.Getenv(prefix + "_BASE_URL"),
	}
}

// NewModelClient creates the client described by s and returns it with the
// resolved model name.
func NewModelClient(s Settings) (engine.ModelClient, string, error) {
	provider := strings.ToLower(s.Provider)
	if provider == "" {
		provider = "openai"
	}

	switch provider {
	case "anthropic":
		if s.APIKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		model := firstNonEmpty(s.Model, "claude-3-5-sonnet-latest")
		client, err := NewAnthropicClient(s.APIKey, model, s.BaseURL, s.Options)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		return client, model, nil

	case "ollama":
		model := firstNonEmpty(s.Model, "llama3.1")
		client, err := NewOllamaClient(model, s.BaseURL, s.Options)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return client, model, nil
	}

	ep, ok := compatibleEndpoints[provider]
	if !ok {
		return nil, "", fmt.Errorf("unknown LLM_PROVIDER: %s (supported: %s)", provider, strings.Join(SupportedProviders(), ", "))
	}
	apiKey := s.APIKey
	if apiKey == "" {
		if ep.needsKey {
			return nil, "", fmt.Errorf("%s_API_KEY not set", ep.envPrefix)
		}
		apiKey = ep.localKey
	}
	model := firstNonEmpty(s.Model, ep.defaultModel)
	client, err := NewOpenAIClient(apiKey, model, firstNonEmpty(s.BaseURL, ep.baseURL), s.Options)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s client: %w", provider, err)
	}
	return client, model, nil
}

// NewModelClientFromEnv creates a client from environment variables.
func NewModelClientFromEnv(_ context.Context) (engine.ModelClient, string, error) {
	return NewModelClient(SettingsFromEnv())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
