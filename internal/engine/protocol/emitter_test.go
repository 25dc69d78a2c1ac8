package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterAnswerThenDone(t *testing.T) {
	ctx := context.Background()
	rec := &Recorder{}
	em := NewEmitter(rec)

	require.NoError(t, em.Status(ctx, StateThinking, 1, 10, "thinking..."))
	assert.ErrorIs(t, em.Done(ctx, nil), ErrStreamClosed, "done needs an answer first")
	require.NoError(t, em.Answer(ctx, "partial answer"))
	assert.True(t, em.Terminated())

	assert.ErrorIs(t, em.Status(ctx, StateThinking, 2, 10, ""), ErrStreamClosed)
	assert.ErrorIs(t, em.Error(ctx, "late", ""), ErrStreamClosed)
	require.NoError(t, em.Done(ctx, map[string]any{"message_id": 7}))
	assert.ErrorIs(t, em.Done(ctx, nil), ErrStreamClosed)

	assert.Equal(t, []EventType{EventStatus, EventChunk, EventDone}, rec.Types())
}

func TestEmitterErrorIsFinal(t *testing.T) {
	ctx := context.Background()
	rec := &Recorder{}
	em := NewEmitter(rec)

	require.NoError(t, em.Error(ctx, "boom", ""))
	assert.ErrorIs(t, em.Answer(ctx, "x"), ErrStreamClosed)
	assert.ErrorIs(t, em.Done(ctx, nil), ErrStreamClosed)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ErrorEvent{Message: "boom", Code: "UNKNOWN"}, events[0])
}

func TestEmitterTerminalSticksOnDeliveryFailure(t *testing.T) {
	broken := SinkFunc(func(context.Context, Event) error { return errors.New("pipe closed") })
	em := NewEmitter(broken)

	assert.Error(t, em.Error(context.Background(), "x", "MODEL_ERROR"))
	assert.ErrorIs(t, em.Error(context.Background(), "x", "MODEL_ERROR"), ErrStreamClosed)
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, sink.Send(ctx, NewChunkEvent("a")))
	cancel()
	// Buffer is full and the context is gone: Send must not block.
	assert.ErrorIs(t, sink.Send(ctx, NewChunkEvent("b")), context.Canceled)

	sink.Close()
	sink.Close()
	var got []Event
	for e := range sink.Events() {
		got = append(got, e)
	}
	assert.Equal(t, []Event{NewChunkEvent("a")}, got)
}

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"user_message","message":"hi","persona_id":"legal","max_steps":3}`))
	require.NoError(t, err)
	um, ok := cmd.(UserMessageCommand)
	require.True(t, ok)
	assert.Equal(t, "hi", um.Message)
	assert.Equal(t, "legal", um.PersonaID)
	require.NotNil(t, um.MaxSteps)
	assert.Equal(t, 3, *um.MaxSteps)
	assert.Nil(t, um.RepeatLimit)

	cmd, err = DecodeCommand([]byte(`{"type":"cancel_request"}`))
	require.NoError(t, err)
	assert.Equal(t, CommandCancelRequest, cmd.GetType())

	for _, bad := range []string{`{"type":"user_message"}`, `{}`, `{"type":"reboot"}`, `not json`} {
		_, err := DecodeCommand([]byte(bad))
		assert.Error(t, err, bad)
	}
}
