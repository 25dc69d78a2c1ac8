// Package prompts assembles the message sequence sent to the model: a
// system prompt built from an optional persona and a hot-reloadable base
// template, followed by history and the new user turn.
package prompts

// Persona is a named system-prompt prefix selected per conversation.
type Persona struct {
	ID          string // Unique identifier (e.g., "legal", "tender")
	Name        string // Human-readable name
	Content     string // Text placed before the base template
	Description string
}
