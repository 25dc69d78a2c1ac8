package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/agentd/internal/engine/protocol"
)

func TestRunPlainAnswer(t *testing.T) {
	model := &scriptedModel{responses: []string{"4"}}
	c := newTestController(model, nil, 10)
	rec := &protocol.Recorder{}

	res, err := c.Run(context.Background(), Invocation{Input: "2+2?"}, rec)
	require.NoError(t, err)
	assert.Equal(t, "4", res.Answer)
	assert.Equal(t, 1, res.Steps)

	events := rec.Events()
	require.Len(t, events, 3)
	assert.Equal(t, protocol.NewStatusEvent(protocol.StateThinking, 1, 10, "thinking..."), events[0])
	assert.Equal(t, protocol.StateDone, events[1].(protocol.StatusEvent).State)
	assert.Equal(t, protocol.NewChunkEvent("4"), events[2])
}

func TestStreamLetsCallerCloseWithDone(t *testing.T) {
	ctx := context.Background()

	rec := &protocol.Recorder{}
	em := protocol.NewEmitter(rec)
	c := newTestController(&scriptedModel{responses: []string{"4"}}, nil, 10)
	_, err := c.Stream(ctx, Invocation{Input: "2+2?"}, em)
	require.NoError(t, err)
	require.NoError(t, em.Done(ctx, map[string]any{"message_id": 2}))
	types := rec.Types()
	assert.Equal(t, []protocol.EventType{protocol.EventChunk, protocol.EventDone}, types[len(types)-2:])

	rec = &protocol.Recorder{}
	em = protocol.NewEmitter(rec)
	c = newTestController(&scriptedModel{errs: []error{errors.New("invalid api key")}}, nil, 10)
	_, err = c.Stream(ctx, Invocation{Input: "2+2?"}, em)
	require.Error(t, err)
	assert.ErrorIs(t, em.Done(ctx, nil), protocol.ErrStreamClosed, "no done after an error terminal")
	assert.Equal(t, protocol.EventError, rec.Types()[len(rec.Types())-1])
}

func TestRunToolThenAnswer(t *testing.T) {
	var runs atomic.Int32
	b := NewRegistryBuilder()
	countingTool(b, "echo", &runs)

	model := &scriptedModel{responses: []string{
		toolCallText("echo", `{"q": "hello"}`),
		"final: hello",
	}}
	c := newTestController(model, b.Build(), 10)
	rec := &protocol.Recorder{}

	res, err := c.Run(context.Background(), Invocation{Input: "say hello"}, rec)
	require.NoError(t, err)
	assert.Equal(t, "final: hello", res.Answer)
	assert.EqualValues(t, 1, runs.Load())

	statuses := rec.Statuses()
	require.Len(t, statuses, 4)
	assert.Equal(t, protocol.StateThinking, statuses[0].State)
	assert.Equal(t, protocol.StateExecuting, statuses[1].State)
	assert.Equal(t, "calling tool: echo", statuses[1].Message)
	assert.Equal(t, protocol.StateThinking, statuses[2].State)
	assert.Equal(t, 2, statuses[2].Step)
	assert.Equal(t, "tool returned: echo:hello...", statuses[2].Message)
	assert.Equal(t, protocol.StateDone, statuses[3].State)
	assert.Equal(t, protocol.EventChunk, rec.Types()[len(rec.Types())-1])

	// The second model call saw the tool call and its observation.
	second := model.seen[1]
	require.Len(t, second, 4)
	assert.Equal(t, AssistantMessage(toolCallText("echo", `{"q": "hello"}`)), second[2])
	assert.Equal(t, UserMessage("Tool 'echo' Result: echo:hello"), second[3])
}

func TestRunRepeatedCallBreaker(t *testing.T) {
	var runs atomic.Int32
	b := NewRegistryBuilder()
	countingTool(b, "echo", &runs)

	// The model never stops issuing the same call; key order varies.
	model := &scriptedModel{responses: []string{
		toolCallText("echo", `{"q": "x", "n": 1}`),
		toolCallText("echo", `{"n": 1, "q": "x"}`),
	}}
	c := newTestController(model, b.Build(), 10)
	rec := &protocol.Recorder{}

	_, err := c.Run(context.Background(), Invocation{Input: "loop"}, rec)
	var repeated *RepeatedCallLimitExceeded
	require.True(t, errors.As(err, &repeated))
	assert.EqualValues(t, 1, runs.Load(), "tool runs exactly once")
	assert.Equal(t, 4, model.Calls())

	var warnings int
	for _, s := range rec.Statuses() {
		if s.State == protocol.StateError {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)

	events := rec.Events()
	last := events[len(events)-1]
	assert.Equal(t, protocol.NewErrorEvent("Repeated tool call limit exceeded, execution terminated", CodeRepeatedCall), last)

	// Each repeat fed a corrective message back to the model.
	lastSeen := model.seen[3]
	assert.Equal(t, UserMessage("Error: Repeated tool call 'echo' with same arguments. Stop and answer."), lastSeen[len(lastSeen)-1])
}

func TestRunRepeatCounterResetsOnNewCall(t *testing.T) {
	var runs atomic.Int32
	b := NewRegistryBuilder()
	countingTool(b, "echo", &runs)

	model := &scriptedModel{responses: []string{
		toolCallText("echo", `{"q": "a"}`),
		toolCallText("echo", `{"q": "a"}`),
		toolCallText("echo", `{"q": "a"}`),
		toolCallText("echo", `{"q": "b"}`),
		toolCallText("echo", `{"q": "b"}`),
		toolCallText("echo", `{"q": "b"}`),
		"done",
	}}
	c := newTestController(model, b.Build(), 10)

	res, err := c.Run(context.Background(), Invocation{Input: "go"}, &protocol.Recorder{})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Answer)
	assert.EqualValues(t, 2, runs.Load())
}

func TestRunUnknownToolIsObservation(t *testing.T) {
	model := &scriptedModel{responses: []string{
		toolCallText("nope", `{}`),
		"sorry",
	}}
	c := newTestController(model, nil, 10)
	rec := &protocol.Recorder{}

	res, err := c.Run(context.Background(), Invocation{Input: "x"}, rec)
	require.NoError(t, err)
	assert.Equal(t, "sorry", res.Answer)

	second := model.seen[1]
	assert.Equal(t, UserMessage("Tool 'nope' Result: Error: Tool 'nope' not found."), second[len(second)-1])
}

func TestRunToolFailureIsObservation(t *testing.T) {
	b := NewRegistryBuilder()
	b.MustRegister(ToolDescriptor{Name: "broken"}, func(map[string]any) (Tool, error) {
		return ToolFunc(func(context.Context) (string, error) { return "", errors.New("db offline") }), nil
	})
	b.MustRegister(ToolDescriptor{Name: "panics"}, func(map[string]any) (Tool, error) {
		return ToolFunc(func(context.Context) (string, error) { panic("nil map") }), nil
	})
	model := &scriptedModel{responses: []string{
		toolCallText("broken", `{}`),
		toolCallText("panics", `{}`),
		"recovered",
	}}
	c := newTestController(model, b.Build(), 10)

	rec := &protocol.Recorder{}
	res, err := c.Run(context.Background(), Invocation{Input: "x"}, rec)
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Answer)

	second := model.seen[1]
	assert.Equal(t, UserMessage("Tool 'broken' Result: Error execution tool: db offline"), second[len(second)-1])
	third := model.seen[2]
	assert.Contains(t, third[len(third)-1].Content, "panicked: nil map")

	// The status after each failed tool previews the failure text.
	var thinking []string
	for _, s := range rec.Statuses() {
		if s.State == protocol.StateThinking && s.Step > 1 {
			thinking = append(thinking, s.Message)
		}
	}
	require.Len(t, thinking, 2)
	assert.Contains(t, thinking[0], "db offline")
	assert.Contains(t, thinking[1], "panicked")
}

func TestRunStepLimit(t *testing.T) {
	var runs atomic.Int32
	b := NewRegistryBuilder()
	countingTool(b, "echo", &runs)

	var n atomic.Int32
	model := ModelFunc(func(context.Context, []Message) (ModelResponse, error) {
		i := n.Add(1)
		return ModelResponse{Content: toolCallText("echo", `{"q": "`+strings.Repeat("x", int(i))+`"}`)}, nil
	})
	c := newTestController(model, b.Build(), 3)
	rec := &protocol.Recorder{}

	res, err := c.Run(context.Background(), Invocation{Input: "x"}, rec)
	var limit *StepLimitExceeded
	require.True(t, errors.As(err, &limit))
	assert.Equal(t, 3, res.Steps)
	assert.EqualValues(t, 3, runs.Load())

	for _, s := range rec.Statuses() {
		assert.LessOrEqual(t, s.Step, 3)
	}
	events := rec.Events()
	assert.Equal(t, protocol.NewErrorEvent("Task limit exceeded (Max steps reached).", CodeStepLimit), events[len(events)-1])
}

func TestRunMaxStepsOverride(t *testing.T) {
	model := &scriptedModel{responses: []string{toolCallText("x", `{"i": 1}`), toolCallText("x", `{"i": 2}`)}}
	c := newTestController(model, nil, 10)
	one := 1

	_, err := c.Run(context.Background(), Invocation{Input: "x", Overrides: Overrides{MaxSteps: &one}}, &protocol.Recorder{})
	var limit *StepLimitExceeded
	require.True(t, errors.As(err, &limit))
	assert.Equal(t, 1, model.Calls())
}

func TestRunModelError(t *testing.T) {
	model := &scriptedModel{errs: []error{errors.New("invalid api key")}}
	c := newTestController(model, nil, 10)
	rec := &protocol.Recorder{}

	_, err := c.Run(context.Background(), Invocation{Input: "x"}, rec)
	var modelErr *ModelInvocationError
	require.True(t, errors.As(err, &modelErr))

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, protocol.NewErrorEvent("Agent execution failed: invalid api key", CodeModelError), events[1])
}

func TestRunModelTimeoutIsModelError(t *testing.T) {
	model := &scriptedModel{errs: []error{fmt.Errorf("chat completion: %w", context.DeadlineExceeded)}}
	c := newTestController(model, nil, 10)
	rec := &protocol.Recorder{}

	_, err := c.Run(context.Background(), Invocation{Input: "x"}, rec)
	var modelErr *ModelInvocationError
	require.True(t, errors.As(err, &modelErr))
	assert.Equal(t, CodeModelError, ErrorCode(err))

	events := rec.Events()
	require.Len(t, events, 2)
	last, ok := events[1].(protocol.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, CodeModelError, last.Code)
	assert.Contains(t, last.Message, "context deadline exceeded")
}

func TestRunModelRetryRecovers(t *testing.T) {
	model := &scriptedModel{
		responses: []string{"unused", "ok"},
		errs:      []error{WrapLLMError(errors.New("503 service unavailable"), 503, "")},
	}
	c, err := NewControllerBuilder().
		WithModel(model).
		WithAssembler(plainAssembler{}).
		WithBackoff(0).
		WithModelRetry(RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}).
		Build()
	require.NoError(t, err)

	res, err := c.Run(context.Background(), Invocation{Input: "x"}, &protocol.Recorder{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Answer)
	assert.Equal(t, 2, model.Calls())
}

func TestRunMalformedJSONIsAnswer(t *testing.T) {
	text := "```json\n{\"tool\": \"search\", \"args\": \n```"
	model := &scriptedModel{responses: []string{text}}
	c := newTestController(model, nil, 10)

	res, err := c.Run(context.Background(), Invocation{Input: "x"}, &protocol.Recorder{})
	require.NoError(t, err)
	assert.Equal(t, text, res.Answer)
}

func TestRunExactlyOneTerminalEvent(t *testing.T) {
	scripts := [][]string{
		{"answer"},
		{toolCallText("x", `{}`), "answer"},
		{toolCallText("x", `{}`)},
	}
	for _, script := range scripts {
		model := &scriptedModel{responses: script}
		c := newTestController(model, nil, 4)
		rec := &protocol.Recorder{}
		_, _ = c.Run(context.Background(), Invocation{Input: "x"}, rec)

		terminals := 0
		events := rec.Events()
		for i, e := range events {
			switch e.(type) {
			case protocol.ChunkEvent, protocol.ErrorEvent:
				terminals++
				assert.Equal(t, len(events)-1, i, "nothing follows the terminal event")
			}
		}
		assert.Equal(t, 1, terminals)
	}
}

func TestRunMessagesOnlyGrow(t *testing.T) {
	b := NewRegistryBuilder()
	var runs atomic.Int32
	countingTool(b, "echo", &runs)
	model := &scriptedModel{responses: []string{
		toolCallText("echo", `{"q": "1"}`),
		toolCallText("echo", `{"q": "1"}`),
		toolCallText("echo", `{"q": "2"}`),
		"end",
	}}
	c := newTestController(model, b.Build(), 10)
	history := []Message{UserMessage("earlier"), AssistantMessage("reply")}

	res, err := c.Run(context.Background(), Invocation{Input: "now", History: history, Persona: "lawyer"}, &protocol.Recorder{})
	require.NoError(t, err)

	prev := 0
	for _, seen := range model.seen {
		assert.Greater(t, len(seen), prev)
		prev = len(seen)
	}
	assert.Equal(t, "lawyer tools=1", res.Messages[0].Content)
	assert.Equal(t, history, res.Messages[1:3])
	assert.Equal(t, UserMessage("now"), res.Messages[3])
	assert.Equal(t, AssistantMessage("end"), res.Messages[len(res.Messages)-1])
}

func TestRunCancelledDuringModelCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	model := ModelFunc(func(ctx context.Context, _ []Message) (ModelResponse, error) {
		close(started)
		<-ctx.Done()
		return ModelResponse{}, ctx.Err()
	})
	c := newTestController(model, nil, 10)
	rec := &protocol.Recorder{}

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, Invocation{Input: "x"}, rec)
		done <- err
	}()
	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, CodeCancelled, ErrorCode(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, []protocol.EventType{protocol.EventStatus}, rec.Types())
}

func TestRunCancelledDuringBackoff(t *testing.T) {
	model := &scriptedModel{responses: []string{toolCallText("x", `{}`), "never"}}
	c, err := NewControllerBuilder().
		WithModel(model).
		WithAssembler(plainAssembler{}).
		WithBackoff(time.Hour).
		WithModelRetry(RetryPolicy{}).
		Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sink := protocol.SinkFunc(func(_ context.Context, e protocol.Event) error {
		if s, ok := e.(protocol.StatusEvent); ok && s.State == protocol.StateThinking && s.Step == 2 {
			cancel()
		}
		return nil
	})

	_, err = c.Run(ctx, Invocation{Input: "x"}, sink)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, model.Calls())
}

func TestRunStopsWhenSinkFails(t *testing.T) {
	model := &scriptedModel{responses: []string{"answer"}}
	c := newTestController(model, nil, 10)
	gone := errors.New("client went away")
	var sends atomic.Int32
	sink := protocol.SinkFunc(func(context.Context, protocol.Event) error {
		sends.Add(1)
		return gone
	})

	_, err := c.Run(context.Background(), Invocation{Input: "x"}, sink)
	assert.ErrorIs(t, err, gone)
	assert.EqualValues(t, 1, sends.Load())
	assert.Equal(t, 0, model.Calls())
}

func TestBuilderRequiresCollaborators(t *testing.T) {
	_, err := NewControllerBuilder().WithAssembler(plainAssembler{}).Build()
	assert.Error(t, err)
	_, err = NewControllerBuilder().WithModel(&scriptedModel{}).Build()
	assert.Error(t, err)
}
