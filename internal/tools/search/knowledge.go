// Package search exposes knowledge retrieval to the agent.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
	"github.com/ChamsBouzaiene/agentd/internal/knowledge"
)

// ToolSearchKnowledgeBase is the registered tool name.
const ToolSearchKnowledgeBase = "search_knowledge_base"

// snippetRunes bounds the content shown per hit.
const snippetRunes = 500

// Searcher retrieves document nodes for a query.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]knowledge.NodeHit, error)
}

// KnowledgeParams are the decoded tool arguments.
type KnowledgeParams struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func searchKnowledgeImpl(ctx context.Context, searcher Searcher, query string, k int) (string, error) {
	hits, err := searcher.Search(ctx, query, k)
	if err != nil {
		return "", fmt.Errorf("knowledge search failed: %w", err)
	}
	if len(hits) == 0 {
		return "No relevant documents found.", nil
	}

	var out []string
	for i, hit := range hits {
		content := []rune(hit.Content)
		if len(content) > snippetRunes {
			content = content[:snippetRunes]
		}
		out = append(out,
			fmt.Sprintf("[%d] Title: %s", i+1, hit.Title),
			fmt.Sprintf("    Content: %s...", string(content)),
			"",
		)
	}
	return strings.Join(out, "\n"), nil
}

// NewSearchKnowledgeBaseTool describes the knowledge search tool and
// returns its constructor.
func NewSearchKnowledgeBaseTool(searcher Searcher) (engine.ToolDescriptor, engine.Constructor) {
	desc := engine.ToolDescriptor{
		Name:        ToolSearchKnowledgeBase,
		Description: "Search the internal knowledge base (contract clauses, regulations, internal documents). Input a natural-language query; returns the most relevant document sections.",
		SchemaJSON: `{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1, "description": "Natural-language query"},
				"top_k": {"type": "integer", "minimum": 1, "maximum": 20, "default": 5, "description": "Number of sections to return"}
			},
			"required": ["query"]
		}`,
	}
	ctor := engine.SchemaConstructor(desc, func(p KnowledgeParams) (engine.Tool, error) {
		return engine.ToolFunc(func(ctx context.Context) (string, error) {
			return searchKnowledgeImpl(ctx, searcher, p.Query, p.TopK)
		}), nil
	})
	return desc, ctor
}
