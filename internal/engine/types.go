package engine

import (
	"context"
	"fmt"
)

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is the provider-agnostic message passed between the loop, the
// prompt assembler and model clients. Tool observations travel as user
// messages so every provider can consume them without native tool calling.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// Validate checks if the Message is valid.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	return nil
}

// SystemMessage, UserMessage and AssistantMessage are small constructors used
// throughout the loop and the prompt assembler.
func SystemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.Prompt += u2.Prompt
	u.Completion += u2.Completion
	u.Total += u2.Total
}

// ModelResponse is a normalized result of one completion call.
type ModelResponse struct {
	Content string
	Usage   Usage
}

// ModelClient is the completion collaborator. Implementations must honor ctx
// cancellation; the loop treats any returned error as fatal once retries are
// exhausted.
type ModelClient interface {
	Chat(ctx context.Context, messages []Message) (ModelResponse, error)
}

// ModelFunc adapts a plain function to ModelClient.
type ModelFunc func(ctx context.Context, messages []Message) (ModelResponse, error)

// Chat implements ModelClient.
func (f ModelFunc) Chat(ctx context.Context, messages []Message) (ModelResponse, error) {
	return f(ctx, messages)
}

// ToolCall is a tool invocation extracted from model output.
type ToolCall struct {
	Name string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Assembler builds the message sequence sent to the model for one invocation.
type Assembler interface {
	Assemble(tools []ToolDescriptor, persona string, history []Message, user string) []Message
}
