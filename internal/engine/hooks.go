// engine/hooks.go
package engine

import (
	"context"
	"time"
)

type Hook interface {
	OnStepStart(ctx context.Context, st *LoopState)
	OnBeforeModel(ctx context.Context, st *LoopState, messages []Message)
	OnAfterModel(ctx context.Context, st *LoopState, resp ModelResponse)
	OnToolCall(ctx context.Context, st *LoopState, call ToolCall)
	OnToolResult(ctx context.Context, st *LoopState, call ToolCall, result string, err error)
	OnRepeatedCall(ctx context.Context, st *LoopState, call ToolCall)
	OnDone(ctx context.Context, st *LoopState, answer string)
	OnFailed(ctx context.Context, st *LoopState, err error)
	// Retry hooks
	OnRetryAttempt(ctx context.Context, st *LoopState, attempt int, maxAttempts int, delay time.Duration, err error)
}

// NopHook lets you implement any hook you need.
type NopHook struct{}

func (NopHook) OnStepStart(context.Context, *LoopState)                                    {}
func (NopHook) OnBeforeModel(context.Context, *LoopState, []Message)                       {}
func (NopHook) OnAfterModel(context.Context, *LoopState, ModelResponse)                    {}
func (NopHook) OnToolCall(context.Context, *LoopState, ToolCall)                           {}
func (NopHook) OnToolResult(context.Context, *LoopState, ToolCall, string, error)          {}
func (NopHook) OnRepeatedCall(context.Context, *LoopState, ToolCall)                       {}
func (NopHook) OnDone(context.Context, *LoopState, string)                                 {}
func (NopHook) OnFailed(context.Context, *LoopState, error)                                {}
func (NopHook) OnRetryAttempt(context.Context, *LoopState, int, int, time.Duration, error) {}
