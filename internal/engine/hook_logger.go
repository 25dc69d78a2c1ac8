// engine/hook_logger.go
package engine

import (
	"context"
	"log/slog"
	"time"
)

// LoggerHook writes one structured line per loop milestone.
type LoggerHook struct{ L *slog.Logger }

func (h LoggerHook) OnStepStart(_ context.Context, st *LoopState) {
	h.L.Debug("step start", "invocation", st.InvocationID, "step", st.Step, "max_steps", st.MaxSteps)
}
func (h LoggerHook) OnBeforeModel(_ context.Context, st *LoopState, msgs []Message) {
	chars := 0
	for _, m := range msgs {
		chars += len(m.Content)
	}
	h.L.Debug("model request", "invocation", st.InvocationID, "step", st.Step, "messages", len(msgs), "chars", chars)
}
func (h LoggerHook) OnAfterModel(_ context.Context, st *LoopState, r ModelResponse) {
	h.L.Info("model response", "invocation", st.InvocationID, "step", st.Step,
		"prompt_tokens", r.Usage.Prompt, "completion_tokens", r.Usage.Completion, "cumulative", st.Totals.Total)
}
func (h LoggerHook) OnToolCall(_ context.Context, st *LoopState, c ToolCall) {
	h.L.Info("tool call", "invocation", st.InvocationID, "tool", c.Name, "args", c.Args)
}
func (h LoggerHook) OnToolResult(_ context.Context, st *LoopState, c ToolCall, result string, err error) {
	if err != nil {
		h.L.Warn("tool error", "invocation", st.InvocationID, "tool", c.Name, "error", err)
		return
	}
	h.L.Info("tool result", "invocation", st.InvocationID, "tool", c.Name, "result", Preview(result, 100))
}
func (h LoggerHook) OnRepeatedCall(_ context.Context, st *LoopState, c ToolCall) {
	h.L.Warn("repeated tool call", "invocation", st.InvocationID, "tool", c.Name, "repeats", st.RepeatCount)
}
func (h LoggerHook) OnDone(_ context.Context, st *LoopState, answer string) {
	h.L.Info("done", "invocation", st.InvocationID, "steps", st.Step, "tool_calls", st.ToolCalls,
		"tokens", st.Totals.Total, "answer_chars", len(answer))
}
func (h LoggerHook) OnFailed(_ context.Context, st *LoopState, err error) {
	h.L.Error("run failed", "invocation", st.InvocationID, "steps", st.Step, "code", ErrorCode(err), "error", err)
}
func (h LoggerHook) OnRetryAttempt(_ context.Context, st *LoopState, attempt int, maxAttempts int, delay time.Duration, err error) {
	h.L.Warn("model retry", "invocation", st.InvocationID, "attempt", attempt, "max", maxAttempts, "delay", delay, "error", err)
}
