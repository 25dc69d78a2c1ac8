package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExecuteTool(t *testing.T) {
	ctx := context.Background()
	b := NewRegistryBuilder()
	b.MustRegister(ToolDescriptor{
		Name:       "mock_tool",
		SchemaJSON: `{"type": "object", "properties": {"should_error": {"type": "boolean"}}}`,
	}, func(args map[string]any) (Tool, error) {
		if err := ValidateArgs(ToolDescriptor{Name: "mock_tool", SchemaJSON: `{"type": "object", "properties": {"should_error": {"type": "boolean"}}}`}, args); err != nil {
			return nil, err
		}
		fail, _ := args["should_error"].(bool)
		return ToolFunc(func(context.Context) (string, error) {
			if fail {
				return "", errors.New("mock error")
			}
			return "success", nil
		}), nil
	})
	b.MustRegister(ToolDescriptor{Name: "panicky"}, func(map[string]any) (Tool, error) {
		return ToolFunc(func(context.Context) (string, error) { panic("boom") }), nil
	})
	c := &Controller{tools: b.Build()}

	tests := []struct {
		name    string
		call    ToolCall
		want    string
		wantErr string
	}{
		{
			name: "success",
			call: ToolCall{Name: "mock_tool", Args: map[string]any{"should_error": false}},
			want: "success",
		},
		{
			name:    "tool execution error",
			call:    ToolCall{Name: "mock_tool", Args: map[string]any{"should_error": true}},
			wantErr: "Error execution tool: mock error",
		},
		{
			name:    "invalid arguments",
			call:    ToolCall{Name: "mock_tool", Args: map[string]any{"should_error": "yes"}},
			wantErr: "validation failed",
		},
		{
			name:    "tool not found",
			call:    ToolCall{Name: "non_existent_tool", Args: map[string]any{}},
			wantErr: "Error: Tool 'non_existent_tool' not found.",
		},
		{
			name:    "empty tool name",
			call:    ToolCall{Name: "", Args: map[string]any{}},
			wantErr: "Error: Tool 'UNKNOWN' not found.",
		},
		{
			name:    "panic is recovered",
			call:    ToolCall{Name: "panicky"},
			wantErr: "panicked: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.executeTool(ctx, tt.call)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("executeTool() unexpected error = %v", err)
				}
				if got != tt.want {
					t.Errorf("executeTool() = %v, want %v", got, tt.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("executeTool() expected error containing %q", tt.wantErr)
			}
			if obs := observationError(err); !strings.Contains(obs, tt.wantErr) {
				t.Errorf("observation = %q, want it to contain %q", obs, tt.wantErr)
			}
		})
	}
}

func TestExecuteToolRespectsCancellation(t *testing.T) {
	b := NewRegistryBuilder()
	b.MustRegister(ToolDescriptor{Name: "slow"}, func(map[string]any) (Tool, error) {
		return ToolFunc(func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}), nil
	})
	c := &Controller{tools: b.Build()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.executeTool(ctx, ToolCall{Name: "slow"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTruncateObservation(t *testing.T) {
	long := strings.Repeat("a", 60) + strings.Repeat("b", 40)
	got := TruncateObservation(long, 20)
	if !strings.HasPrefix(got, strings.Repeat("a", 15)) || !strings.HasSuffix(got, strings.Repeat("b", 5)) {
		t.Errorf("unexpected truncation: %q", got)
	}
	if !strings.Contains(got, "[truncated 80 chars]") {
		t.Errorf("missing marker: %q", got)
	}
	if TruncateObservation("short", 20) != "short" {
		t.Error("short input must be unchanged")
	}
	if TruncateObservation(long, 0) != long {
		t.Error("zero limit disables truncation")
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("line one\nline two", 50); got != "line one line two..." {
		t.Errorf("Preview() = %q", got)
	}
	if got := Preview("合同金额超过一百万元的项目", 4); got != "合同金额..." {
		t.Errorf("Preview() must cut on runes, got %q", got)
	}
}
