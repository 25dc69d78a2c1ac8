package tools

import (
	"log/slog"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
	"github.com/ChamsBouzaiene/agentd/internal/tools/matching"
	"github.com/ChamsBouzaiene/agentd/internal/tools/search"
)

// Deps are the backing stores the tools need. A nil store leaves its tool out.
type Deps struct {
	Searcher search.Searcher
	Matcher  matching.Matcher
	Logger   *slog.Logger
}

// BuildRegistry registers every available tool, in a fixed order, and
// freezes the registry.
func BuildRegistry(deps Deps) (*engine.ToolRegistry, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := engine.NewRegistryBuilder()

	if deps.Searcher != nil {
		if err := b.Register(search.NewSearchKnowledgeBaseTool(deps.Searcher)); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("knowledge store unavailable, tool disabled", "tool", search.ToolSearchKnowledgeBase)
	}

	if deps.Matcher != nil {
		if err := b.Register(matching.NewMatchTenderTool(deps.Matcher)); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("tender store unavailable, tool disabled", "tool", matching.ToolMatchTender)
	}

	return b.Build(), nil
}
