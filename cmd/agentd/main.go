package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/agentd/internal/config"
	"github.com/ChamsBouzaiene/agentd/internal/engine"
	"github.com/ChamsBouzaiene/agentd/internal/engine/protocol"
	"github.com/ChamsBouzaiene/agentd/internal/server"
	"github.com/ChamsBouzaiene/agentd/internal/session"
)

const usage = `usage: agentd <command> [flags]

commands:
  serve                      run the HTTP/WebSocket API
  ask [flags] <question>     run one turn and print its events as SSE frames
  index <dir>                ingest .md/.txt files into the knowledge base
  import-tenders <file>      load tenders from a JSON array
  import-contracts <file>    load contracts from a JSON array
`

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	mgr, err := config.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	cfg, err := mgr.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	switch args[0] {
	case "serve":
		err = runServe(ctx, cfg, logger, args[1:])
	case "ask":
		err = runAsk(ctx, cfg, logger, args[1:])
	case "index":
		err = runIndex(ctx, cfg, logger, args[1:])
	case "import-tenders":
		err = runImportTenders(ctx, cfg, logger, args[1:])
	case "import-contracts":
		err = runImportContracts(ctx, cfg, logger, args[1:])
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.ListenAddr, "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := prepareRuntimeEnv(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	go func() {
		if err := env.Template.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("template watch stopped", "path", env.Template.Path(), "error", err)
		}
	}()

	srv, err := server.New(server.Options{
		Controller: env.Controller,
		Sessions:   session.NewStore(cfg.SessionsDir()),
		Personas:   env.Personas,
		History:    cfg.History,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, *addr)
}

func runAsk(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	persona := fs.String("persona", "", "Persona id to prefix the system prompt with")
	maxSteps := fs.Int("max-steps", 0, "Override the step limit (0 keeps the configured value)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return errors.New("ask requires a question")
	}

	env, err := prepareRuntimeEnv(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	inv := engine.Invocation{
		Persona: env.Personas.Content(*persona),
		Input:   question,
	}
	if *maxSteps > 0 {
		inv.Overrides.MaxSteps = maxSteps
	}

	em := protocol.NewEmitter(protocol.NewSSEWriter(os.Stdout))
	res, err := env.Controller.Stream(ctx, inv, em)
	if err != nil {
		return err
	}
	return em.Done(ctx, map[string]any{
		"steps":      res.Steps,
		"tool_calls": res.ToolCalls,
	})
}

func runIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("index requires a directory")
	}
	store, err := openKnowledge(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Ingest(ctx, args[0])
	if err != nil {
		return err
	}
	for _, werr := range stats.Errors {
		logger.Warn("skipped file", "path", werr.Path, "error", werr.Err)
	}
	logger.Info("index complete",
		"scanned", stats.Scanned,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"removed", stats.Removed,
		"nodes", stats.Nodes)
	return nil
}

func runImportTenders(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("import-tenders requires a JSON file")
	}
	store, err := openKnowledge(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.DB().ImportTenders(ctx, args[0])
	if err != nil {
		return err
	}
	logger.Info("tenders imported", "count", len(ids), "ids", ids)
	return nil
}

func runImportContracts(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New("import-contracts requires a JSON file")
	}
	store, err := openKnowledge(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.DB().ImportContracts(ctx, args[0])
	if err != nil {
		return err
	}
	logger.Info("contracts imported", "count", n)
	return nil
}
