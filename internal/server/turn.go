package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
	"github.com/ChamsBouzaiene/agentd/internal/engine/protocol"
	"github.com/ChamsBouzaiene/agentd/internal/session"
)

// TurnRequest is the body of POST /sessions/{id}/messages.
type TurnRequest struct {
	Content     string `json:"content"`
	PersonaID   string `json:"persona_id,omitempty"`
	MaxSteps    *int   `json:"max_steps,omitempty"`
	RepeatLimit *int   `json:"repeat_limit,omitempty"`
}

// errBadRequest marks client errors found before streaming starts.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// turn is a validated request whose user message is already persisted.
type turn struct {
	sessionID  string
	invocation engine.Invocation
}

// prepareTurn validates the request, snapshots history and persists the
// user message. History is read first so it never contains the new input.
func (s *Server) prepareTurn(sessionID string, req TurnRequest) (*turn, error) {
	if !session.ValidID(sessionID) {
		return nil, badRequest("invalid session id")
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, badRequest("content is required")
	}
	if req.MaxSteps != nil && *req.MaxSteps <= 0 {
		return nil, badRequest("max_steps must be positive")
	}
	if req.RepeatLimit != nil && *req.RepeatLimit < 0 {
		return nil, badRequest("repeat_limit must not be negative")
	}

	history, err := s.sessions.History(sessionID, s.history.Limit, s.history.MaxChars)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if _, err := s.sessions.Append(sessionID, engine.RoleUser, req.Content); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	return &turn{
		sessionID: sessionID,
		invocation: engine.Invocation{
			ID:      protocol.NewInvocationID(),
			Persona: s.resolvePersona(sessionID, req.PersonaID),
			History: session.ToEngine(history),
			Input:   req.Content,
			Overrides: engine.Overrides{
				MaxSteps:    req.MaxSteps,
				RepeatLimit: req.RepeatLimit,
			},
		},
	}, nil
}

// resolvePersona returns the persona prompt for the turn. A persona named
// in the request is recorded on the session; otherwise the session's
// stored persona applies.
func (s *Server) resolvePersona(sessionID, personaID string) string {
	if personaID == "" {
		sess, err := s.sessions.Load(sessionID)
		if err != nil {
			s.logger.Warn("failed to load session persona", "session", sessionID, "error", err)
			return ""
		}
		return s.personas.Content(sess.PersonaID)
	}

	persona := s.personas.Content(personaID)
	if persona == "" {
		s.logger.Warn("unknown persona, using default prompt", "persona_id", personaID)
	} else if err := s.sessions.SetPersona(sessionID, personaID); err != nil {
		s.logger.Warn("failed to record persona", "session", sessionID, "error", err)
	}
	return persona
}

// runTurn drives the controller and, on success, persists the answer and
// closes the stream with done{message_id}.
func (s *Server) runTurn(ctx context.Context, t *turn, sink protocol.Sink) (engine.Result, error) {
	log := s.logger.With("session", t.sessionID, "invocation", t.invocation.ID)

	em := protocol.NewEmitter(sink)
	res, err := s.controller.Stream(ctx, t.invocation, em)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("turn cancelled", "steps", res.Steps)
		} else {
			log.Warn("turn failed", "steps", res.Steps, "code", engine.ErrorCode(err), "error", err)
		}
		return res, err
	}

	payload := map[string]any{}
	msg, err := s.sessions.Append(t.sessionID, engine.RoleAssistant, res.Answer)
	if err != nil {
		log.Error("failed to save answer", "error", err)
		payload["error"] = "answer not saved"
	} else {
		payload["message_id"] = msg.ID
	}

	if err := em.Done(ctx, payload); err != nil {
		log.Warn("failed to deliver done event", "error", err)
		return res, err
	}
	log.Info("turn complete", "steps", res.Steps, "tool_calls", res.ToolCalls, "total_tokens", res.Usage.Total)
	return res, nil
}
