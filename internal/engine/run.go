package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChamsBouzaiene/agentd/internal/engine/protocol"
)

// Invocation is one user turn handed to the loop.
type Invocation struct {
	ID        string    // generated when empty
	Persona   string    // optional system prefix
	History   []Message // already truncated by the caller
	Input     string
	Overrides Overrides
}

// Result summarizes a finished invocation.
type Result struct {
	InvocationID string
	Answer       string
	Steps        int
	ToolCalls    int
	Usage        Usage
	Messages     []Message
}

// Controller drives the think-act-observe loop. It is safe for concurrent
// use; every Run owns its own LoopState.
type Controller struct {
	model     ModelClient
	tools     *ToolRegistry
	assembler Assembler
	config    Config
	hooks     Hooks
}

// Tools returns the registry the controller dispatches to.
func (c *Controller) Tools() *ToolRegistry { return c.tools }

// Config returns the controller defaults.
func (c *Controller) Config() Config { return c.config }

// Run executes one invocation, streaming events to sink. The stream always
// ends with exactly one terminal event unless ctx is cancelled or the sink
// stops accepting events, in which case Run returns without emitting more.
//
// Returns:
//   - Result with the final answer on success
//   - *RepeatedCallLimitExceeded, *StepLimitExceeded or *ModelInvocationError
//     after the matching error event was emitted
//   - ctx.Err() (wrapped) on cancellation
func (c *Controller) Run(ctx context.Context, inv Invocation, sink protocol.Sink) (Result, error) {
	return c.Stream(ctx, inv, protocol.NewEmitter(sink))
}

// Stream is Run over a caller-owned emitter. After a successful return the
// caller may close the stream with em.Done.
func (c *Controller) Stream(ctx context.Context, inv Invocation, em *protocol.Emitter) (Result, error) {
	cfg := c.config.Apply(inv.Overrides)
	if inv.ID == "" {
		inv.ID = protocol.NewInvocationID()
	}

	st := &LoopState{InvocationID: inv.ID, MaxSteps: cfg.MaxSteps}
	st.Append(c.assembler.Assemble(c.tools.Schemas(), inv.Persona, inv.History, inv.Input)...)

	if err := em.Status(ctx, protocol.StateThinking, 1, cfg.MaxSteps, "thinking..."); err != nil {
		return c.fail(ctx, st, em, &deliveryError{err})
	}

	for st.Step < cfg.MaxSteps {
		if err := ctx.Err(); err != nil {
			return c.fail(ctx, st, em, fmt.Errorf("execution cancelled: %w", err))
		}
		st.Step++
		c.hooks.OnStepStart(ctx, st)

		answer, done, err := c.stepOnce(ctx, st, em, cfg)
		if err != nil {
			return c.fail(ctx, st, em, err)
		}
		if done {
			c.hooks.OnDone(ctx, st, answer)
			return c.result(st, answer), nil
		}
	}
	return c.fail(ctx, st, em, &StepLimitExceeded{MaxSteps: cfg.MaxSteps})
}

// fail emits the terminal error event when the stream is still usable.
func (c *Controller) fail(ctx context.Context, st *LoopState, em *protocol.Emitter, err error) (Result, error) {
	c.hooks.OnFailed(ctx, st, err)

	var delivery *deliveryError
	if ctx.Err() == nil && !errors.As(err, &delivery) {
		if emitErr := em.Error(ctx, err.Error(), ErrorCode(err)); emitErr != nil {
			err = errors.Join(err, emitErr)
		}
	}
	return c.result(st, ""), err
}

func (c *Controller) result(st *LoopState, answer string) Result {
	return Result{
		InvocationID: st.InvocationID,
		Answer:       answer,
		Steps:        st.Step,
		ToolCalls:    st.ToolCalls,
		Usage:        st.Totals,
		Messages:     st.Messages,
	}
}

// deliveryError marks a sink failure; nothing more can be emitted.
type deliveryError struct{ err error }

func (e *deliveryError) Error() string { return fmt.Sprintf("emit event: %v", e.err) }
func (e *deliveryError) Unwrap() error { return e.err }
