// Package matching exposes tender matching to the agent.
package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
	"github.com/ChamsBouzaiene/agentd/internal/knowledge"
)

// ToolMatchTender is the registered tool name.
const ToolMatchTender = "match_tender"

// maxReasons is how many reasons are shown per match.
const maxReasons = 3

// Matcher ranks contracts for a tender.
type Matcher interface {
	Match(ctx context.Context, tenderID int64, topK int) ([]knowledge.MatchResult, error)
}

// Params are the decoded tool arguments.
type Params struct {
	TenderID int64 `json:"tender_id"`
	TopK     int   `json:"top_k"`
}

func matchTenderImpl(ctx context.Context, matcher Matcher, tenderID int64, topK int) (string, error) {
	results, err := matcher.Match(ctx, tenderID, topK)
	if errors.Is(err, knowledge.ErrTenderNotFound) {
		return fmt.Sprintf("Error: Tender %d not found.", tenderID), nil
	}
	if err != nil {
		return "", fmt.Errorf("matching failed: %w", err)
	}
	if len(results) == 0 {
		return "No matching contracts found.", nil
	}

	var out []string
	for _, r := range results {
		out = append(out, fmt.Sprintf("- Match ID: %d, Score: %.4f, Contract: %s (%d)", r.MatchID, r.Score, r.PartyA, r.ContractID))
		if len(r.Reasons) > 0 {
			reasons := r.Reasons
			if len(reasons) > maxReasons {
				reasons = reasons[:maxReasons]
			}
			out = append(out, "  Reasons: "+strings.Join(reasons, ", "))
		}
	}
	return strings.Join(out, "\n"), nil
}

// NewMatchTenderTool describes the tender matching tool and returns its constructor.
func NewMatchTenderTool(matcher Matcher) (engine.ToolDescriptor, engine.Constructor) {
	desc := engine.ToolDescriptor{
		Name:        ToolMatchTender,
		Description: "Match a tender requirement (by tender ID) against past performance contracts. Returns the highest scoring contracts with reasons.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"tender_id": {"type": "integer", "minimum": 1, "description": "Tender requirement ID"},
				"top_k": {"type": "integer", "minimum": 1, "maximum": 20, "default": 5, "description": "Number of matches to return"}
			},
			"required": ["tender_id"]
		}`,
	}
	ctor := engine.SchemaConstructor(desc, func(p Params) (engine.Tool, error) {
		return engine.ToolFunc(func(ctx context.Context) (string, error) {
			return matchTenderImpl(ctx, matcher, p.TenderID, p.TopK)
		}), nil
	})
	return desc, ctor
}
