// Package engine runs the think-act-observe loop: it calls the model, parses
// tool invocations out of its text, dispatches them through an immutable
// registry and streams progress as protocol events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Event codes carried by terminal error events.
const (
	CodeRepeatedCall = "REPEATED_CALL"
	CodeStepLimit    = "STEP_LIMIT"
	CodeModelError   = "MODEL_ERROR"
	CodeCancelled    = "CANCELLED"
	CodeUnknown      = "UNKNOWN"
)

// ToolNotFoundError is returned when the model names a tool that is not
// registered. It is never fatal; the loop turns it into an observation.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	name := e.Name
	if name == "" {
		name = "UNKNOWN"
	}
	return fmt.Sprintf("Error: Tool '%s' not found.", name)
}

// ToolArgumentError indicates that tool arguments failed validation or
// could not be coerced into the tool's parameter type.
type ToolArgumentError struct {
	ToolName string
	Errors   []string
}

func (e *ToolArgumentError) Error() string {
	return fmt.Sprintf("tool %s validation failed: %s", e.ToolName, strings.Join(e.Errors, "; "))
}

// ToolExecutionError wraps a fault raised while constructing or running a tool.
type ToolExecutionError struct {
	ToolName string
	Err      error
	Panic    bool
}

func (e *ToolExecutionError) Error() string {
	if e.Panic {
		return fmt.Sprintf("tool %s panicked: %v", e.ToolName, e.Err)
	}
	return fmt.Sprintf("tool %s failed: %v", e.ToolName, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// DuplicateToolError is returned by RegistryBuilder.Register on a name collision.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// RepeatedCallLimitExceeded terminates a run whose model keeps issuing the
// same tool call.
type RepeatedCallLimitExceeded struct {
	ToolName string
	Repeats  int
	Limit    int
}

func (e *RepeatedCallLimitExceeded) Error() string {
	return "Repeated tool call limit exceeded, execution terminated"
}

// StepLimitExceeded terminates a run that used its whole step budget.
type StepLimitExceeded struct {
	MaxSteps int
}

func (e *StepLimitExceeded) Error() string {
	return "Task limit exceeded (Max steps reached)."
}

// ModelInvocationError wraps a failed model call. It is the only fault
// raised inside a step that ends the run.
type ModelInvocationError struct {
	Step int
	Err  error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("Agent execution failed: %v", e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// ErrorCode maps a fatal run error to the code carried by the error event.
func ErrorCode(err error) string {
	var (
		repeated *RepeatedCallLimitExceeded
		steps    *StepLimitExceeded
		model    *ModelInvocationError
	)
	switch {
	case errors.As(err, &repeated):
		return CodeRepeatedCall
	case errors.As(err, &steps):
		return CodeStepLimit
	case errors.As(err, &model):
		// a model that timed out on its own is a model failure
		return CodeModelError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	default:
		return CodeUnknown
	}
}

// panicError carries a recovered panic value through an error return.
type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }
