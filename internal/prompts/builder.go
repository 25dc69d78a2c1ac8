package prompts

import (
	"fmt"
	"strings"
)

// PromptBuilder composes a system prompt from fragments and variables.
type PromptBuilder struct {
	fragments []string
	variables map[string]string
}

// NewPromptBuilder starts a prompt from the base template text.
func NewPromptBuilder(template string) *PromptBuilder {
	return &PromptBuilder{
		fragments: []string{template},
		variables: make(map[string]string),
	}
}

// AddFragment appends a fragment to the prompt.
func (b *PromptBuilder) AddFragment(text string) *PromptBuilder {
	b.fragments = append(b.fragments, text)
	return b
}

// SetVariable sets a variable for template substitution.
func (b *PromptBuilder) SetVariable(key, value string) *PromptBuilder {
	b.variables[key] = value
	return b
}

// Build joins the fragments and replaces every {key} placeholder. Unknown
// placeholders are left untouched.
func (b *PromptBuilder) Build() string {
	result := strings.Join(b.fragments, "\n\n")

	for key, value := range b.variables {
		placeholder := fmt.Sprintf("{%s}", key)
		result = strings.ReplaceAll(result, placeholder, value)
	}

	return result
}
