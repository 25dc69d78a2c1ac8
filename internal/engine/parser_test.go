package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantTool string
		wantArgs map[string]any
	}{
		{
			name:     "fenced json block",
			text:     "I will search.\n```json\n{\"tool\": \"search\", \"args\": {\"query\": \"x\"}}\n```\nthen answer",
			wantOK:   true,
			wantTool: "search",
			wantArgs: map[string]any{"query": "x"},
		},
		{
			name:     "bare json object",
			text:     `  {"tool": "match", "args": {"tender_id": 7}}  `,
			wantOK:   true,
			wantTool: "match",
			wantArgs: map[string]any{"tender_id": float64(7)},
		},
		{
			name:     "bare fence without language",
			text:     "```\n{\"tool\": \"t\", \"args\": {}}\n```",
			wantOK:   true,
			wantTool: "t",
			wantArgs: map[string]any{},
		},
		{
			name:     "first fenced block wins",
			text:     "```json\n{\"tool\": \"a\", \"args\": {}}\n```\n```json\n{\"tool\": \"b\", \"args\": {}}\n```",
			wantOK:   true,
			wantTool: "a",
			wantArgs: map[string]any{},
		},
		{name: "plain answer", text: "The answer is 4."},
		{name: "number literal", text: "4"},
		{name: "malformed json", text: "```json\n{\"tool\": \"search\", \"args\": {\"query\": }\n```"},
		{name: "json array", text: `[{"tool": "x", "args": {}}]`},
		{name: "missing args", text: `{"tool": "search"}`},
		{name: "args not an object", text: `{"tool": "search", "args": "query"}`},
		{name: "tool not a string", text: `{"tool": 3, "args": {}}`},
		{name: "trailing text after object", text: `{"tool": "x", "args": {}} and more`},
		{name: "empty", text: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := ParseToolCall(tt.text)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantTool, call.Name)
			assert.Equal(t, tt.wantArgs, call.Args)
		})
	}
}

func TestSignatureIgnoresKeyOrder(t *testing.T) {
	a, ok := ParseToolCall(`{"tool": "s", "args": {"a": 1, "b": {"y": 2, "x": 1}}}`)
	require.True(t, ok)
	b, ok := ParseToolCall(`{"args": {"b": {"x": 1, "y": 2}, "a": 1}, "tool": "s"}`)
	require.True(t, ok)

	assert.Equal(t, Signature(a), Signature(b))
	assert.Equal(t, `{"args":{"a":1,"b":{"x":1,"y":2}},"tool":"s"}`, Signature(a))

	c := ToolCall{Name: "s", Args: map[string]any{"a": float64(2)}}
	assert.NotEqual(t, Signature(a), Signature(c))
}

func TestParseToolCallIsIdempotent(t *testing.T) {
	inputs := []string{
		"```json\n{\"tool\": \"search_knowledge_base\", \"args\": {\"query\": \"damages\"}}\n```",
		`{"tool": "match_tender", "args": {"tender_id": 3}}`,
		"The contract was signed in 2021.",
		"```json\n{\"tool\": 1}\n```",
	}
	for _, in := range inputs {
		first, ok1 := ParseToolCall(in)
		second, ok2 := ParseToolCall(in)
		assert.Equal(t, ok1, ok2, in)
		assert.Equal(t, first, second, in)
		if ok1 {
			assert.Equal(t, Signature(first), Signature(second), in)
		}
	}
}
