// Command flowstate runs the conversational workflow engine as an MCP server
// over stdio. Workflows are stored in libSQL; conversation context lives in
// Redis when configured, otherwise in the same libSQL database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/reivaj/flowstate/internal/engine"
	"github.com/reivaj/flowstate/internal/expressions"
	"github.com/reivaj/flowstate/internal/knowledge"
	"github.com/reivaj/flowstate/internal/llm"
	"github.com/reivaj/flowstate/internal/logging"
	"github.com/reivaj/flowstate/internal/nodes"
	"github.com/reivaj/flowstate/internal/scheduler"
	"github.com/reivaj/flowstate/internal/script"
	"github.com/reivaj/flowstate/internal/store"
	"github.com/reivaj/flowstate/internal/streaming"
	"github.com/reivaj/flowstate/internal/tools"
	"github.com/reivaj/flowstate/internal/validation"
	"github.com/reivaj/flowstate/pkg/mcp"
	"github.com/reivaj/flowstate/pkg/schema"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowstate:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(flowstateDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	// Context entries go to Redis when an address is configured, with the
	// session TTL as key expiry. libSQL carries them otherwise.
	var contexts store.ContextStore = db
	if cfg.RedisAddr != "" {
		rc, redisErr := store.NewRedisContextStore(store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.sessionTTL(),
		})
		if redisErr != nil {
			return fmt.Errorf("connect context store: %w", redisErr)
		}
		contexts = rc
		logger.Info("using redis context store", "addr", cfg.RedisAddr)
	}

	execDeps, err := buildExecDeps(cfg, db, logger)
	if err != nil {
		return err
	}

	hub := streaming.NewMemoryHub()
	notifier := &swappableNotifier{}

	runner := engine.NewRunner(engine.Deps{
		Workflows: db,
		Sessions:  db,
		Contexts:  contexts,
		Messages:  db,
		Registry:  nodes.DefaultRegistry(),
		Exec:      execDeps,
		Hub:       hub,
		Notifier:  notifier,
		Selector:  activeWorkflowSelector(db),
		Logger:    logger,
	}, engine.Config{
		MaxSubworkflowDepth: cfg.MaxDepth,
		MaxNodesPerTurn:     cfg.MaxNodesPerTurn,
	})

	validator, err := validation.NewGraphValidator(storedWorkflowLookup{db: db})
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	srv := mcp.NewFlowstateServer(mcp.FlowstateServerDeps{
		Runner:    runner,
		Workflows: db,
		Sessions:  db,
		Messages:  db,
		Validator: validator,
		Logger:    logger,
	})
	notifier.set(mcp.NewMCPNotifier(srv.MCPServer(), srv.Registry()))

	sweeper := scheduler.NewSweeper(db, contexts, runner.FSM().Transition, hub,
		scheduler.Config{IdleTTL: cfg.sessionTTL(), CronSpec: cfg.SweepCron}, logger)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweeper.Stop()

	logger.Info("flowstate engine starting", "version", version, "db", cfg.DBPath)
	return srv.Serve(ctx)
}

// buildExecDeps assembles the collaborators handed to node executors. The
// LLM, tool, and knowledge gateways are only wired when their base URLs are
// configured; nodes needing an absent one fail with a collaborator error.
func buildExecDeps(cfg Config, db *store.LibSQLStore, logger *slog.Logger) (*nodes.Deps, error) {
	deps := &nodes.Deps{
		Sessions:      db,
		Messages:      db,
		Scripts:       script.NewYaegiRunner(cfg.scriptTimeout()),
		Logger:        logger,
		DefaultModel:  cfg.LLMModel,
		HistoryWindow: cfg.HistoryWindow,
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("build cel engine: %w", err)
	}
	deps.Engines = map[string]expressions.Engine{
		"expr": expressions.NewExprEngine(),
		"cel":  celEngine,
		"jq":   expressions.NewGoJQEngine(),
	}

	if cfg.LLMBaseURL != "" {
		deps.LLM = llm.NewGateway(cfg.LLMBaseURL, cfg.LLMAPIKey, llm.WithLogger(logger))
	}
	if cfg.ToolsBaseURL != "" {
		deps.Tools = tools.NewGateway(cfg.ToolsBaseURL, cfg.ToolsAPIKey, nil)
	}
	if cfg.KnowledgeURL != "" {
		deps.Knowledge = knowledge.NewGateway(cfg.KnowledgeURL, cfg.KnowledgeAPIKey)
	}

	return deps, nil
}

// activeWorkflowSelector picks the company's active workflow for fresh
// conversations.
func activeWorkflowSelector(workflows store.WorkflowStore) engine.WorkflowSelector {
	return func(ctx context.Context, in schema.TurnInput) (string, error) {
		active := true
		list, err := workflows.ListWorkflows(ctx, store.WorkflowFilter{
			CompanyID: in.CompanyID,
			Active:    &active,
			Limit:     1,
		})
		if err != nil {
			return "", err
		}
		if len(list) == 0 {
			return "", schema.NewErrorf(schema.ErrCodeNotFound,
				"no active workflow for company %q", in.CompanyID)
		}
		return list[0].ID, nil
	}
}

// storedWorkflowLookup lets the validator check subworkflow references
// against the workflow store.
type storedWorkflowLookup struct {
	db *store.LibSQLStore
}

func (l storedWorkflowLookup) Has(workflowID string) bool {
	_, err := l.db.GetWorkflow(context.Background(), workflowID)
	return err == nil
}

// swappableNotifier breaks the construction cycle between the runner (which
// needs a notifier) and the MCP server (which needs the runner). Notifies are
// dropped until the real notifier is set.
type swappableNotifier struct {
	inner atomic.Pointer[mcp.MCPNotifier]
}

func (n *swappableNotifier) set(inner *mcp.MCPNotifier) {
	n.inner.Store(inner)
}

func (n *swappableNotifier) Notify(ctx context.Context, conversationID, text string) error {
	if inner := n.inner.Load(); inner != nil {
		return inner.Notify(ctx, conversationID, text)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// MCP owns stdout; logs go to stderr.
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
