package protocol

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamClosed is returned for any emission after the terminal event.
var ErrStreamClosed = errors.New("protocol: stream already terminated")

type streamState int

const (
	streamOpen streamState = iota
	streamAnswered
	streamClosed
)

// Emitter serializes one invocation's events onto a Sink and guarantees a
// single terminal event: the final answer chunk or an error. After an
// answer the owner may append exactly one Done event.
type Emitter struct {
	mu    sync.Mutex
	sink  Sink
	state streamState
}

// NewEmitter wraps sink.
func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

// Status emits a progress event.
func (e *Emitter) Status(ctx context.Context, state State, step, total int, message string) error {
	return e.emit(ctx, NewStatusEvent(state, step, total, message), streamOpen, streamOpen)
}

// Answer emits the final answer chunk; it is the success terminal.
func (e *Emitter) Answer(ctx context.Context, content string) error {
	return e.emit(ctx, NewChunkEvent(content), streamOpen, streamAnswered)
}

// Error emits the failure terminal.
func (e *Emitter) Error(ctx context.Context, message, code string) error {
	return e.emit(ctx, NewErrorEvent(message, code), streamOpen, streamClosed)
}

// Done closes an answered stream with the caller's payload.
func (e *Emitter) Done(ctx context.Context, payload map[string]any) error {
	return e.emit(ctx, NewDoneEvent(payload), streamAnswered, streamClosed)
}

// Terminated reports whether a terminal event has been emitted.
func (e *Emitter) Terminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != streamOpen
}

func (e *Emitter) emit(ctx context.Context, ev Event, want, next streamState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != want {
		return ErrStreamClosed
	}
	// The state advances even if delivery fails so a broken consumer never
	// sees a second terminal.
	e.state = next
	return e.sink.Send(ctx, ev)
}
