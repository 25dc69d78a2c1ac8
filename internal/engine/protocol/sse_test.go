package protocol

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSSE(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "status",
			event: NewStatusEvent(StateThinking, 1, 10, "thinking..."),
			want:  "event: status\ndata: {\"state\":\"THINKING\",\"step\":1,\"total\":10,\"message\":\"thinking...\"}\n\n",
		},
		{
			name:  "chunk keeps newlines escaped",
			event: NewChunkEvent("line1\nline2"),
			want:  "event: chunk\ndata: {\"content\":\"line1\\nline2\"}\n\n",
		},
		{
			name:  "error",
			event: NewErrorEvent("Task limit exceeded (Max steps reached).", "STEP_LIMIT"),
			want:  "event: error\ndata: {\"message\":\"Task limit exceeded (Max steps reached).\",\"code\":\"STEP_LIMIT\"}\n\n",
		},
		{
			name:  "done",
			event: NewDoneEvent(map[string]any{"message_id": 42}),
			want:  "event: done\ndata: {\"message_id\":42}\n\n",
		},
		{
			name:  "empty done",
			event: NewDoneEvent(nil),
			want:  "event: done\ndata: {}\n\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeSSE(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestSSEWriterFlushesAndReadsBack(t *testing.T) {
	rr := httptest.NewRecorder()
	w := NewSSEWriter(rr)
	ctx := context.Background()

	sent := []Event{
		NewStatusEvent(StateExecuting, 2, 10, "calling tool: search_knowledge_base"),
		NewChunkEvent("答案"),
		NewDoneEvent(map[string]any{"message_id": float64(3)}),
	}
	for _, e := range sent {
		require.NoError(t, w.Send(ctx, e))
	}
	assert.True(t, rr.Flushed)

	got, err := ReadAllSSE(rr.Body)
	require.NoError(t, err)
	assert.Equal(t, sent, got)
}

func TestSSEReaderSkipsComments(t *testing.T) {
	stream := ": keep-alive\n\nevent: chunk\ndata: {\"content\":\"a\"}\n\nevent: error\ndata: {\"message\":\"m\",\"code\":\"MODEL_ERROR\"}"
	got, err := ReadAllSSE(strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, []Event{NewChunkEvent("a"), NewErrorEvent("m", "MODEL_ERROR")}, got)
}

func TestSSEWriterHonorsContext(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewSSEWriter(&buf).Send(ctx, NewChunkEvent("x")), context.Canceled)
	assert.Zero(t, buf.Len())
}
