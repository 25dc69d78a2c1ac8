package engine

import (
	"context"
	"time"
)

type Hooks []Hook

func (hs Hooks) OnStepStart(ctx context.Context, st *LoopState) {
	for _, h := range hs {
		h.OnStepStart(ctx, st)
	}
}
func (hs Hooks) OnBeforeModel(ctx context.Context, st *LoopState, m []Message) {
	for _, h := range hs {
		h.OnBeforeModel(ctx, st, m)
	}
}
func (hs Hooks) OnAfterModel(ctx context.Context, st *LoopState, r ModelResponse) {
	for _, h := range hs {
		h.OnAfterModel(ctx, st, r)
	}
}
func (hs Hooks) OnToolCall(ctx context.Context, st *LoopState, c ToolCall) {
	for _, h := range hs {
		h.OnToolCall(ctx, st, c)
	}
}
func (hs Hooks) OnToolResult(ctx context.Context, st *LoopState, c ToolCall, s string, e error) {
	for _, h := range hs {
		h.OnToolResult(ctx, st, c, s, e)
	}
}
func (hs Hooks) OnRepeatedCall(ctx context.Context, st *LoopState, c ToolCall) {
	for _, h := range hs {
		h.OnRepeatedCall(ctx, st, c)
	}
}
func (hs Hooks) OnDone(ctx context.Context, st *LoopState, answer string) {
	for _, h := range hs {
		h.OnDone(ctx, st, answer)
	}
}
func (hs Hooks) OnFailed(ctx context.Context, st *LoopState, err error) {
	for _, h := range hs {
		h.OnFailed(ctx, st, err)
	}
}
func (hs Hooks) OnRetryAttempt(ctx context.Context, st *LoopState, attempt int, maxAttempts int, delay time.Duration, err error) {
	for _, h := range hs {
		h.OnRetryAttempt(ctx, st, attempt, maxAttempts, delay, err)
	}
}
