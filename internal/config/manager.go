package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
	"github.com/ChamsBouzaiene/agentd/internal/providers"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Duration is a time.Duration written as a Go duration string ("1s", "250ms").
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(x * float64(time.Second))
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// EngineSettings bound every agent invocation.
type EngineSettings struct {
	MaxSteps         int      `json:"max_steps"`
	RepeatLimit      int      `json:"repeat_limit"`
	Backoff          Duration `json:"backoff"`
	ObservationLimit int      `json:"observation_limit"`
	ModelRetries     int      `json:"model_retries"`
	ModelTimeout     Duration `json:"model_timeout"` // wall clock per model call
}

// HistorySettings bound the conversation history passed to the model.
type HistorySettings struct {
	Limit    int `json:"limit"`     // Most recent messages kept
	MaxChars int `json:"max_chars"` // Character budget, newest first
}

// Config holds the persistent service configuration.
type Config struct {
	LLMProvider  string            `json:"llm_provider,omitempty"` // openai, anthropic, ollama, deepseek, ...
	APIKey       string            `json:"api_key,omitempty"`
	Model        string            `json:"model,omitempty"`
	BaseURL      string            `json:"base_url,omitempty"`
	ListenAddr   string            `json:"listen_addr"`
	DataDir      string            `json:"data_dir"`
	TemplatePath string            `json:"template_path"`
	LogLevel     string            `json:"log_level"`
	MatchScorer  string            `json:"match_scorer"` // rule or model
	Engine       EngineSettings    `json:"engine"`
	History      HistorySettings   `json:"history"`
	Personas     map[string]string `json:"personas,omitempty"` // persona id -> prompt text
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	ec := engine.DefaultConfig()
	return &Config{
		ListenAddr:   ":8001",
		DataDir:      "data",
		TemplatePath: "prompts/agent/system.md",
		LogLevel:     "info",
		MatchScorer:  "rule",
		Engine: EngineSettings{
			MaxSteps:         ec.MaxSteps,
			RepeatLimit:      ec.RepeatLimit,
			Backoff:          Duration(ec.Backoff),
			ObservationLimit: ec.ObservationLimit,
			ModelRetries:     ec.ModelRetry.MaxRetries,
			ModelTimeout:     Duration(providers.DefaultTimeout),
		},
		History: HistorySettings{Limit: 20, MaxChars: 2000},
	}
}

// DBPath is the SQLite file inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "agentd.db")
}

// SessionsDir is where chat sessions are stored.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// EngineConfig converts the engine settings for the loop controller.
func (c *Config) EngineConfig() engine.Config {
	ec := engine.DefaultConfig()
	ec.MaxSteps = c.Engine.MaxSteps
	ec.RepeatLimit = c.Engine.RepeatLimit
	ec.Backoff = time.Duration(c.Engine.Backoff)
	ec.ObservationLimit = c.Engine.ObservationLimit
	ec.ModelRetry.MaxRetries = c.Engine.ModelRetries
	return ec
}

// ProviderSettings resolves the model provider. LLM_PROVIDER and the
// provider's own env variables win over values from the file.
func (c *Config) ProviderSettings() providers.Settings {
	provider := strings.ToLower(os.Getenv("LLM_PROVIDER"))
	if provider == "" {
		provider = strings.ToLower(c.LLMProvider)
	}
	if provider == "" {
		provider = "openai"
	}

	s := providers.EnvSettings(provider)
	s.Options.Timeout = time.Duration(c.Engine.ModelTimeout)
	if c.LLMProvider == "" || strings.EqualFold(c.LLMProvider, provider) {
		if s.APIKey == "" {
			s.APIKey = c.APIKey
		}
		if s.Model == "" {
			s.Model = c.Model
		}
		if s.BaseURL == "" {
			s.BaseURL = c.BaseURL
		}
	}
	return s
}

// ApplyEnv overrides file values with AGENTD_* environment variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"AGENTD_LISTEN_ADDR":   &c.ListenAddr,
		"AGENTD_DATA_DIR":      &c.DataDir,
		"AGENTD_TEMPLATE_PATH": &c.TemplatePath,
		"AGENTD_LOG_LEVEL":     &c.LogLevel,
		"AGENTD_MATCH_SCORER":  &c.MatchScorer,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"AGENTD_MAX_STEPS":         &c.Engine.MaxSteps,
		"AGENTD_REPEAT_LIMIT":      &c.Engine.RepeatLimit,
		"AGENTD_OBSERVATION_LIMIT": &c.Engine.ObservationLimit,
		"AGENTD_MODEL_RETRIES":     &c.Engine.ModelRetries,
		"AGENTD_HISTORY_LIMIT":     &c.History.Limit,
		"AGENTD_HISTORY_MAX_CHARS": &c.History.MaxChars,
	}
	var errs []error
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = n
	}

	durations := map[string]*Duration{
		"AGENTD_BACKOFF":       &c.Engine.Backoff,
		"AGENTD_MODEL_TIMEOUT": &c.Engine.ModelTimeout,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = Duration(d)
	}
	return errors.Join(errs...)
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Engine.MaxSteps <= 0:
		return fmt.Errorf("engine.max_steps must be positive, got %d", c.Engine.MaxSteps)
	case c.Engine.RepeatLimit < 0:
		return fmt.Errorf("engine.repeat_limit must not be negative, got %d", c.Engine.RepeatLimit)
	case c.Engine.Backoff < 0:
		return fmt.Errorf("engine.backoff must not be negative")
	case c.Engine.ModelTimeout < 0:
		return fmt.Errorf("engine.model_timeout must not be negative")
	case c.History.Limit < 0 || c.History.MaxChars < 0:
		return fmt.Errorf("history limits must not be negative")
	case c.MatchScorer != "rule" && c.MatchScorer != "model":
		return fmt.Errorf("match_scorer must be rule or model, got %q", c.MatchScorer)
	}
	return nil
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a configuration manager rooted in the user config dir,
// or in AGENTD_CONFIG_DIR when set.
func NewManager() (*Manager, error) {
	if dir := os.Getenv("AGENTD_CONFIG_DIR"); dir != "" {
		return NewManagerAt(dir), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return NewManagerAt(filepath.Join(configDir, "agentd")), nil
}

// NewManagerAt creates a manager for an explicit directory.
func NewManagerAt(dir string) *Manager {
	return &Manager{configDir: dir}
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// Load reads the configuration from disk over the defaults, then applies
// environment overrides. A missing file is not an error.
func (m *Manager) Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(m.GetConfigPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config json: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// api_key lives here, so owner read/write only
	if err := os.WriteFile(m.GetConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}
