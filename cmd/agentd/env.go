package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ChamsBouzaiene/agentd/internal/config"
	"github.com/ChamsBouzaiene/agentd/internal/engine"
	"github.com/ChamsBouzaiene/agentd/internal/knowledge"
	"github.com/ChamsBouzaiene/agentd/internal/prompts"
	"github.com/ChamsBouzaiene/agentd/internal/providers"
	"github.com/ChamsBouzaiene/agentd/internal/tools"
)

// runtimeEnv holds everything a command needs to run the agent.
type runtimeEnv struct {
	Config     *config.Config
	Logger     *slog.Logger
	Knowledge  *knowledge.Store
	Template   *prompts.FileTemplate
	Personas   *prompts.PersonaRegistry
	Controller *engine.Controller
}

func (r *runtimeEnv) Close() {
	if r.Knowledge != nil {
		if err := r.Knowledge.Close(); err != nil {
			r.Logger.Warn("failed to close knowledge store", "error", err)
		}
	}
}

// openKnowledge opens the sqlite store and bleve index under the data dir.
func openKnowledge(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*knowledge.Store, error) {
	store, err := knowledge.Open(ctx, cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge store: %w", err)
	}
	return store, nil
}

// prepareRuntimeEnv wires config, storage, tools, the model client and the
// controller. A knowledge store that fails to open only disables its tools.
func prepareRuntimeEnv(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtimeEnv, error) {
	env := &runtimeEnv{Config: cfg, Logger: logger}

	model, providerName, err := providers.NewModelClient(cfg.ProviderSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	logger.Info("model client ready", "provider", providerName)

	deps := tools.Deps{Logger: logger}
	store, err := openKnowledge(ctx, cfg, logger)
	if err != nil {
		logger.Warn("knowledge tools disabled", "error", err)
	} else {
		env.Knowledge = store
		deps.Searcher = store
		deps.Matcher = knowledge.NewMatcher(store.DB(), newScorer(cfg, model), logger)
	}

	registry, err := tools.BuildRegistry(deps)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}

	env.Template = prompts.NewFileTemplate(cfg.TemplatePath, logger)
	env.Personas = prompts.NewPersonaRegistry()
	env.Personas.LoadMap(cfg.Personas)

	controller, err := engine.NewControllerBuilder().
		WithModel(model).
		WithTools(registry).
		WithAssembler(prompts.NewAssembler(env.Template)).
		WithConfig(cfg.EngineConfig()).
		WithHooks(engine.LoggerHook{L: logger}).
		Build()
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to build controller: %w", err)
	}
	env.Controller = controller
	logger.Info("agent ready", "tools", registry.Names(), "max_steps", cfg.Engine.MaxSteps)
	return env, nil
}

// newScorer picks the contract scorer: the deterministic rule score by
// default, or the chat model when match_scorer is "model".
func newScorer(cfg *config.Config, model engine.ModelClient) knowledge.Scorer {
	if cfg.MatchScorer == "model" {
		return knowledge.ModelScorer{Client: model}
	}
	return knowledge.RuleScorer{}
}
