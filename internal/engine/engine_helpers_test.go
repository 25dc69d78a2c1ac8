package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// scriptedModel replays canned responses; the last one repeats forever.
type scriptedModel struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	seen      [][]Message
}

func (m *scriptedModel) Chat(_ context.Context, messages []Message) (ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	m.seen = append(m.seen, append([]Message(nil), messages...))
	if i < len(m.errs) && m.errs[i] != nil {
		return ModelResponse{}, m.errs[i]
	}
	if len(m.responses) == 0 {
		return ModelResponse{}, errors.New("no scripted response")
	}
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return ModelResponse{Content: m.responses[i], Usage: Usage{Prompt: 10, Completion: 5, Total: 15}}, nil
}

func (m *scriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// plainAssembler builds [system, history..., user] without templates.
type plainAssembler struct{}

func (plainAssembler) Assemble(tools []ToolDescriptor, persona string, history []Message, user string) []Message {
	out := []Message{SystemMessage(fmt.Sprintf("%s tools=%d", persona, len(tools)))}
	out = append(out, history...)
	return append(out, UserMessage(user))
}

// countingTool registers a tool that echoes its "q" argument and counts runs.
func countingTool(b *RegistryBuilder, name string, runs *atomic.Int32) {
	desc := ToolDescriptor{
		Name:        name,
		Description: "echo",
		SchemaJSON:  `{"type":"object","properties":{"q":{"type":"string"}}}`,
	}
	b.MustRegister(desc, func(args map[string]any) (Tool, error) {
		q, _ := args["q"].(string)
		return ToolFunc(func(context.Context) (string, error) {
			runs.Add(1)
			return "echo:" + q, nil
		}), nil
	})
}

func toolCallText(name string, args string) string {
	return "```json\n{\"tool\": \"" + name + "\", \"args\": " + args + "}\n```"
}

func newTestController(model ModelClient, reg *ToolRegistry, maxSteps int) *Controller {
	c, err := NewControllerBuilder().
		WithModel(model).
		WithTools(reg).
		WithAssembler(plainAssembler{}).
		WithMaxSteps(maxSteps).
		WithBackoff(0).
		WithModelRetry(RetryPolicy{}).
		Build()
	if err != nil {
		panic(err)
	}
	return c
}
