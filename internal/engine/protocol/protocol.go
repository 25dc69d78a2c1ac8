// Package protocol defines the typed events a loop streams to its caller,
// their SSE wire framing, and the commands a streaming client may send.
package protocol

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewInvocationID returns a fresh identifier for one loop invocation.
func NewInvocationID() string {
	return uuid.NewString()
}

// EventType is the SSE event name.
type EventType string

const (
	EventStatus EventType = "status"
	EventChunk  EventType = "chunk"
	EventError  EventType = "error"
	EventDone   EventType = "done"
)

// State is the loop phase reported by status events.
type State string

const (
	StateThinking  State = "THINKING"
	StateExecuting State = "EXECUTING"
	StateDone      State = "DONE"
	StateError     State = "ERROR"
)

// Event is implemented by every streamed event.
type Event interface {
	GetType() EventType
	isEvent()
}

// MarshalEvent encodes the event's data payload.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// StatusEvent reports loop progress.
type StatusEvent struct {
	State   State  `json:"state"`
	Step    int    `json:"step"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// NewStatusEvent creates a status event.
func NewStatusEvent(state State, step, total int, message string) StatusEvent {
	return StatusEvent{State: state, Step: step, Total: total, Message: message}
}

func (StatusEvent) isEvent()           {}
func (StatusEvent) GetType() EventType { return EventStatus }

// ChunkEvent carries answer text. The loop emits the whole answer as one
// chunk; providers that stream may emit several.
type ChunkEvent struct {
	Content string `json:"content"`
}

// NewChunkEvent creates a chunk event.
func NewChunkEvent(content string) ChunkEvent { return ChunkEvent{Content: content} }

func (ChunkEvent) isEvent()           {}
func (ChunkEvent) GetType() EventType { return EventChunk }

// ErrorEvent terminates a stream with a failure.
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewErrorEvent creates an error event; an empty code becomes UNKNOWN.
func NewErrorEvent(message, code string) ErrorEvent {
	if code == "" {
		code = "UNKNOWN"
	}
	return ErrorEvent{Message: message, Code: code}
}

func (ErrorEvent) isEvent()           {}
func (ErrorEvent) GetType() EventType { return EventError }

// DoneEvent is written by the caller after it has persisted a successful
// answer, typically carrying {"message_id": n}.
type DoneEvent struct {
	Payload map[string]any
}

// NewDoneEvent creates a done event.
func NewDoneEvent(payload map[string]any) DoneEvent { return DoneEvent{Payload: payload} }

func (DoneEvent) isEvent()           {}
func (DoneEvent) GetType() EventType { return EventDone }

// MarshalJSON writes the bare payload.
func (e DoneEvent) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Payload)
}

// DecodeEvent rebuilds a typed event from an SSE event name and data.
func DecodeEvent(kind EventType, data []byte) (Event, error) {
	switch kind {
	case EventStatus:
		var e StatusEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		return e, nil
	case EventChunk:
		var e ChunkEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode chunk: %w", err)
		}
		return e, nil
	case EventError:
		var e ErrorEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		return e, nil
	case EventDone:
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("decode done: %w", err)
		}
		return DoneEvent{Payload: payload}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", kind)
	}
}

// CommandType enumerates messages a streaming client may send.
type CommandType string

const (
	CommandUserMessage   CommandType = "user_message"
	CommandCancelRequest CommandType = "cancel_request"
)

// Command is a marker interface implemented by all protocol commands.
type Command interface {
	GetType() CommandType
}

// UserMessageCommand starts one invocation.
type UserMessageCommand struct {
	Type        CommandType `json:"type"`
	Message     string      `json:"message"`
	PersonaID   string      `json:"persona_id,omitempty"`
	MaxSteps    *int        `json:"max_steps,omitempty"`
	RepeatLimit *int        `json:"repeat_limit,omitempty"`
}

// GetType implements Command.
func (c UserMessageCommand) GetType() CommandType { return CommandUserMessage }

// CancelRequestCommand aborts the running invocation.
type CancelRequestCommand struct {
	Type CommandType `json:"type"`
}

// GetType implements Command.
func (c CancelRequestCommand) GetType() CommandType { return CommandCancelRequest }

type rawCommand struct {
	Type CommandType `json:"type"`
}

// DecodeCommand converts raw JSON into a strongly typed command.
func DecodeCommand(data []byte) (Command, error) {
	var base rawCommand
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch base.Type {
	case CommandUserMessage:
		var cmd UserMessageCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode user_message: %w", err)
		}
		if cmd.Message == "" {
			return nil, errors.New("user_message requires message")
		}
		return cmd, nil
	case CommandCancelRequest:
		return CancelRequestCommand{Type: CommandCancelRequest}, nil
	case "":
		return nil, errors.New("command type missing")
	default:
		return nil, fmt.Errorf("unknown command type: %s", base.Type)
	}
}
