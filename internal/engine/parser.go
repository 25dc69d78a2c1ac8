package engine

import (
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ParseToolCall extracts a tool invocation from model text. It prefers the
// first ```json fenced block and otherwise decodes the whole trimmed text,
// tolerating a bare ``` fence. Anything that is not an object with a string
// "tool" and an object "args" is a final answer and yields false.
func ParseToolCall(text string) (ToolCall, bool) {
	candidate := strings.TrimSpace(text)
	if m := fencedJSON.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	} else {
		candidate = stripFence(candidate)
	}
	if !strings.HasPrefix(candidate, "{") {
		return ToolCall{}, false
	}

	var raw map[string]any
	if err := json.UnmarshalFromString(candidate, &raw); err != nil {
		return ToolCall{}, false
	}
	name, ok := raw["tool"].(string)
	if !ok {
		return ToolCall{}, false
	}
	args, ok := raw["args"].(map[string]any)
	if !ok {
		return ToolCall{}, false
	}
	return ToolCall{Name: name, Args: args}, true
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Signature is the canonical form of a call used by the repeat breaker:
// the JSON of {tool, args} with object keys sorted at every depth.
func Signature(call ToolCall) string {
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	s, err := json.MarshalToString(map[string]any{"tool": call.Name, "args": args})
	if err != nil {
		return call.Name
	}
	return s
}
