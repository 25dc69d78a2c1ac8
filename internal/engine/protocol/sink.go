package protocol

import (
	"context"
	"sync"
)

// Sink receives events in emission order. Send must honor ctx so a stalled
// consumer cannot wedge the loop.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, e Event) error { return f(ctx, e) }

// ChannelSink delivers events on a channel for an in-process consumer.
type ChannelSink struct {
	ch        chan Event
	closeOnce sync.Once
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Send implements Sink.
func (s *ChannelSink) Send(ctx context.Context, e Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- e:
		return nil
	}
}

// Events returns the receive side.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Close ends the stream. Call it once the producer has returned.
func (s *ChannelSink) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Send implements Sink.
func (r *Recorder) Send(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	events := r.Events()
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.GetType()
	}
	return out
}

// Statuses returns only the status events.
func (r *Recorder) Statuses() []StatusEvent {
	var out []StatusEvent
	for _, e := range r.Events() {
		if s, ok := e.(StatusEvent); ok {
			out = append(out, s)
		}
	}
	return out
}
