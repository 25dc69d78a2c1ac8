package session

import (
	"time"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
)

// titleRunes is how much of the first user message becomes the title.
const titleRunes = 32

// Message is one persisted chat turn.
type Message struct {
	ID        int64              `json:"message_id"`
	Role      engine.MessageRole `json:"role"`
	Content   string             `json:"content"`
	CreatedAt time.Time          `json:"created_at"`
}

// Session represents a persistent chat session.
type Session struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"persona_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	NextID    int64     `json:"next_message_id"`
	Messages  []Message `json:"messages"`
}

// SessionMeta is a lightweight representation for listing.
type SessionMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	PersonaID    string    `json:"persona_id,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Meta summarizes the session.
func (s *Session) Meta() SessionMeta {
	return SessionMeta{
		ID:           s.ID,
		Title:        s.Title,
		PersonaID:    s.PersonaID,
		MessageCount: len(s.Messages),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// append adds a message with the next id. The first user message titles
// an untitled session.
func (s *Session) append(role engine.MessageRole, content string, now time.Time) Message {
	s.NextID++
	msg := Message{ID: s.NextID, Role: role, Content: content, CreatedAt: now}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = now
	if s.Title == "" && role == engine.RoleUser {
		title := []rune(content)
		if len(title) > titleRunes {
			title = title[:titleRunes]
		}
		s.Title = string(title)
	}
	return msg
}

// Recent returns the last limit messages, oldest first. limit <= 0 means all.
func Recent(msgs []Message, limit int) []Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}

// TruncateByChars keeps the newest messages whose combined content fits in
// maxChars runes. It stops at the first message that would overflow, so the
// result is always a contiguous suffix. maxChars <= 0 disables the budget.
func TruncateByChars(msgs []Message, maxChars int) []Message {
	if maxChars <= 0 {
		return msgs
	}
	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		n := len([]rune(msgs[i].Content))
		if total+n > maxChars {
			break
		}
		total += n
		start = i
	}
	return msgs[start:]
}

// ToEngine converts persisted messages for the loop controller.
func ToEngine(msgs []Message) []engine.Message {
	out := make([]engine.Message, len(msgs))
	for i, m := range msgs {
		out[i] = engine.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
