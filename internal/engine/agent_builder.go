package engine

import (
	"errors"
	"time"
)

// ControllerBuilder helps construct a Controller with a fluent API.
type ControllerBuilder struct {
	config    Config
	model     ModelClient
	tools     *ToolRegistry
	assembler Assembler
	hooks     Hooks
}

// NewControllerBuilder creates a builder with DefaultConfig.
func NewControllerBuilder() *ControllerBuilder {
	return &ControllerBuilder{
		config: DefaultConfig(),
	}
}

// WithModel sets the model client.
func (b *ControllerBuilder) WithModel(model ModelClient) *ControllerBuilder {
	b.model = model
	return b
}

// WithTools sets the tool registry.
func (b *ControllerBuilder) WithTools(reg *ToolRegistry) *ControllerBuilder {
	b.tools = reg
	return b
}

// WithAssembler sets the prompt assembler.
func (b *ControllerBuilder) WithAssembler(a Assembler) *ControllerBuilder {
	b.assembler = a
	return b
}

// WithConfig replaces the whole configuration.
func (b *ControllerBuilder) WithConfig(cfg Config) *ControllerBuilder {
	b.config = cfg
	return b
}

// WithMaxSteps sets the default step budget.
func (b *ControllerBuilder) WithMaxSteps(maxSteps int) *ControllerBuilder {
	b.config.MaxSteps = maxSteps
	return b
}

// WithRepeatLimit sets how many identical consecutive calls are tolerated.
func (b *ControllerBuilder) WithRepeatLimit(limit int) *ControllerBuilder {
	b.config.RepeatLimit = limit
	return b
}

// WithBackoff sets the pause after tool execution. Zero disables it.
func (b *ControllerBuilder) WithBackoff(d time.Duration) *ControllerBuilder {
	b.config.Backoff = d
	return b
}

// WithModelRetry sets the retry policy around model calls.
func (b *ControllerBuilder) WithModelRetry(policy RetryPolicy) *ControllerBuilder {
	b.config.ModelRetry = policy
	return b
}

// WithHooks appends observability hooks.
func (b *ControllerBuilder) WithHooks(hooks ...Hook) *ControllerBuilder {
	b.hooks = append(b.hooks, hooks...)
	return b
}

// Build validates the configuration and returns the controller.
func (b *ControllerBuilder) Build() (*Controller, error) {
	if b.model == nil {
		return nil, errors.New("model client is required")
	}
	if b.assembler == nil {
		return nil, errors.New("prompt assembler is required")
	}
	tools := b.tools
	if tools == nil {
		tools = NewRegistryBuilder().Build()
	}
	return &Controller{
		model:     b.model,
		tools:     tools,
		assembler: b.assembler,
		config:    b.config.normalized(),
		hooks:     append(Hooks(nil), b.hooks...),
	}, nil
}
