package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/agentd/internal/engine/protocol"
)

const repeatedCallNotice = "Error: Repeated tool call '%s' with same arguments. Stop and answer."

// stepOnce performs one model call and acts on its output. It reports
// done=true once the model produced a final answer.
func (c *Controller) stepOnce(ctx context.Context, st *LoopState, em *protocol.Emitter, cfg Config) (string, bool, error) {
	c.hooks.OnBeforeModel(ctx, st, st.Messages)
	resp, err := c.callModel(ctx, st, cfg)
	if err != nil {
		return "", false, err
	}
	st.Totals.Add(resp.Usage)
	c.hooks.OnAfterModel(ctx, st, resp)

	call, ok := ParseToolCall(resp.Content)
	if !ok {
		st.Append(AssistantMessage(resp.Content))
		if err := em.Status(ctx, protocol.StateDone, st.Step, st.MaxSteps, "done"); err != nil {
			return "", false, &deliveryError{err}
		}
		if err := em.Answer(ctx, resp.Content); err != nil {
			return "", false, &deliveryError{err}
		}
		return resp.Content, true, nil
	}

	if repeats := st.observeRepeat(Signature(call)); repeats > 0 {
		c.hooks.OnRepeatedCall(ctx, st, call)
		if repeats > cfg.RepeatLimit {
			return "", false, &RepeatedCallLimitExceeded{ToolName: call.Name, Repeats: repeats, Limit: cfg.RepeatLimit}
		}
		st.Append(AssistantMessage(resp.Content), UserMessage(fmt.Sprintf(repeatedCallNotice, call.Name)))
		msg := fmt.Sprintf("repeated call to %s detected", toolLabel(call.Name))
		if err := em.Status(ctx, protocol.StateError, st.Step, st.MaxSteps, msg); err != nil {
			return "", false, &deliveryError{err}
		}
		return "", false, sleep(ctx, cfg.Backoff)
	}

	if err := em.Status(ctx, protocol.StateExecuting, st.Step, st.MaxSteps, "calling tool: "+toolLabel(call.Name)); err != nil {
		return "", false, &deliveryError{err}
	}
	c.hooks.OnToolCall(ctx, st, call)
	st.ToolCalls++

	result, toolErr := c.executeTool(ctx, call)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", false, fmt.Errorf("execution cancelled: %w", ctxErr)
	}
	c.hooks.OnToolResult(ctx, st, call, result, toolErr)
	if toolErr != nil {
		result = observationError(toolErr)
	}

	st.Append(
		AssistantMessage(resp.Content),
		UserMessage(TruncateObservation(fmt.Sprintf("Tool '%s' Result: %s", call.Name, result), cfg.ObservationLimit)),
	)
	next := min(st.Step+1, st.MaxSteps)
	if err := em.Status(ctx, protocol.StateThinking, next, st.MaxSteps, "tool returned: "+Preview(result, 50)); err != nil {
		return "", false, &deliveryError{err}
	}
	return "", false, sleep(ctx, cfg.Backoff)
}

// callModel runs the retried completion call on its own goroutine.
func (c *Controller) callModel(ctx context.Context, st *LoopState, cfg Config) (ModelResponse, error) {
	messages := append([]Message(nil), st.Messages...)
	resp, err := await(ctx, func(ctx context.Context) (ModelResponse, error) {
		return retryModelCall(ctx, cfg.ModelRetry, c.model, messages, func(attempt int, delay time.Duration, err error) {
			c.hooks.OnRetryAttempt(ctx, st, attempt, cfg.ModelRetry.MaxRetries, delay, err)
		})
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ModelResponse{}, fmt.Errorf("execution cancelled: %w", ctxErr)
		}
		return ModelResponse{}, &ModelInvocationError{Step: st.Step, Err: err}
	}
	return resp, nil
}

// executeTool resolves, constructs and runs a tool exactly once. Every
// fault comes back as an error for the observation; nothing here is fatal.
func (c *Controller) executeTool(ctx context.Context, call ToolCall) (string, error) {
	ctor, ok := c.tools.Get(call.Name)
	if !ok || call.Name == "" {
		return "", &ToolNotFoundError{Name: call.Name}
	}

	return await(ctx, func(ctx context.Context) (out string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &ToolExecutionError{ToolName: call.Name, Err: fmt.Errorf("%v", r), Panic: true}
			}
		}()
		args := call.Args
		if args == nil {
			args = map[string]any{}
		}
		tool, err := ctor(args)
		if err != nil {
			return "", err
		}
		out, err = tool.Execute(ctx)
		if err != nil {
			return "", &ToolExecutionError{ToolName: call.Name, Err: err}
		}
		return out, nil
	})
}

// observationError renders a tool fault the way the model sees it.
func observationError(err error) string {
	var notFound *ToolNotFoundError
	if errors.As(err, &notFound) {
		return notFound.Error()
	}
	var exec *ToolExecutionError
	if errors.As(err, &exec) && !exec.Panic {
		err = exec.Err
	}
	return fmt.Sprintf("Error execution tool: %v", err)
}

func toolLabel(name string) string {
	if name == "" {
		return "UNKNOWN"
	}
	return name
}
