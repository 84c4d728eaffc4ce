// Command stepflowd runs the troubleshooting chat service: it loads
// configuration, wires the engine's collaborators, and serves the HTTP
// surface described in spec.md section 6.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/stepflowhq/stepflow/pkg/chat"
	"github.com/stepflowhq/stepflow/pkg/config"
	"github.com/stepflowhq/stepflow/pkg/engine"
	"github.com/stepflowhq/stepflow/pkg/executor"
	"github.com/stepflowhq/stepflow/pkg/llm"
	"github.com/stepflowhq/stepflow/pkg/llm/openaicompat"
	"github.com/stepflowhq/stepflow/pkg/logger"
	"github.com/stepflowhq/stepflow/pkg/narrator"
	"github.com/stepflowhq/stepflow/pkg/observability"
	"github.com/stepflowhq/stepflow/pkg/router"
	"github.com/stepflowhq/stepflow/pkg/server"
	"github.com/stepflowhq/stepflow/pkg/session"
	"github.com/stepflowhq/stepflow/pkg/store"
	"github.com/stepflowhq/stepflow/pkg/workflow"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve ServeCmd `cmd:"" default:"1" help:"Start the chat service HTTP server."`
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Config  string `short:"c" help:"Path to the YAML config file." default:"config.yaml" type:"path"`
	EnvFile string `help:"Path to a .env file loaded before the config file." default:".env"`
	Watch   bool   `help:"Watch the config file and log a notice on change (collaborators are not hot-swapped; restart to apply)."`
}

func (c *ServeCmd) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	loader, err := config.NewLoader(config.LoaderOptions{
		Path:    c.Config,
		EnvFile: c.EnvFile,
		Watch:   c.Watch,
		OnChange: func(*config.Config) error {
			slog.Info("config file changed; restart stepflowd to apply it")
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("stepflowd: %w", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("stepflowd: %w", err)
	}
	defer loader.Stop()

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("stepflowd: %w", err)
	}
	output := os.Stderr
	if cfg.Logging.File != "" {
		f, cleanup, err := logger.OpenLogFile(cfg.Logging.File)
		if err != nil {
			return fmt.Errorf("stepflowd: open log file: %w", err)
		}
		defer cleanup()
		output = f
	}
	logger.Init(level, output, cfg.Logging.Format)
	log := logger.GetLogger()

	llmClient, err := buildLLMProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("stepflowd: %w", err)
	}

	workflowStore, sessionStore, err := buildStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("stepflowd: %w", err)
	}

	workflowRouter, err := buildRouter(cfg.Router, workflowStore)
	if err != nil {
		return fmt.Errorf("stepflowd: %w", err)
	}

	metrics := observability.NewMetrics("stepflow")
	eng := engine.New(workflowStore,
		executor.New(llmClient, executor.WithMetrics(metrics)),
		narrator.New(llmClient, narrator.WithMetrics(metrics)),
		engine.WithMetrics(metrics),
	)
	chatSvc := chat.New(sessionStore, workflowStore, eng, workflowRouter)

	srv := server.New(cfg.Server.Address, chatSvc,
		server.WithMetrics(metrics),
		server.WithLogger(log),
	)

	log.Info("stepflowd starting", "address", srv.Address(), "workflows_dir", cfg.WorkflowsDir)
	return srv.Start(ctx)
}

// buildLLMProvider constructs the one concrete LLMProvider adapter this
// module ships, matching the teacher's pattern of a config-driven
// provider switch even though only one kind is currently implemented.
func buildLLMProvider(cfg config.LLMConfig) (llm.LLMProvider, error) {
	switch cfg.Provider {
	case config.LLMProviderOpenAI, "":
		return openaicompat.New(openaicompat.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported llm.provider %q", cfg.Provider)
	}
}

// buildStores chooses between the SQL-backed stores and the in-memory
// ones based on whether Config.Database.Driver is set, then seeds the
// workflow store from WorkflowsDir.
func buildStores(ctx context.Context, cfg *config.Config) (workflow.Store, session.Store, error) {
	var workflowStore workflow.Store
	var sessionStore session.Store

	if cfg.Database.Driver == "" {
		fileStore, err := workflow.LoadDir(cfg.WorkflowsDir)
		if err != nil {
			return nil, nil, fmt.Errorf("load workflows dir %s: %w", cfg.WorkflowsDir, err)
		}
		workflowStore = fileStore
		sessionStore = session.NewMemoryStore()
		return workflowStore, sessionStore, nil
	}

	dialect := store.Dialect(cfg.Database.Driver)
	db, err := store.Open(ctx, dialect, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	sqlWorkflows, err := store.NewWorkflowStore(ctx, db, dialect)
	if err != nil {
		return nil, nil, fmt.Errorf("init workflow store: %w", err)
	}
	if err := seedWorkflows(ctx, sqlWorkflows, cfg.WorkflowsDir); err != nil {
		return nil, nil, err
	}
	workflowStore = sqlWorkflows

	sqlSessions, err := store.NewSessionStore(ctx, db, dialect)
	if err != nil {
		return nil, nil, fmt.Errorf("init session store: %w", err)
	}
	sessionStore = sqlSessions

	return workflowStore, sessionStore, nil
}

// seedWorkflows loads every workflow definition from dir into the
// durable store, so a restart against an already-seeded database is a
// cheap no-op upsert rather than a required manual step.
func seedWorkflows(ctx context.Context, dest *store.WorkflowStore, dir string) error {
	fileStore, err := workflow.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("load workflows dir %s: %w", dir, err)
	}
	for _, w := range workflow.All(fileStore) {
		if err := dest.Put(ctx, w); err != nil {
			return fmt.Errorf("seed workflow %s: %w", w.Name, err)
		}
	}
	return nil
}

func buildRouter(cfg config.RouterConfig, workflowStore workflow.Store) (router.WorkflowRouter, error) {
	switch cfg.Strategy {
	case "static":
		return router.NewStatic(cfg.StaticWorkflowID), nil
	case "keyword", "":
		return router.NewKeyword(workflowStore, workflow.All(workflowStore), cfg.MatchThreshold), nil
	default:
		return nil, fmt.Errorf("unsupported router.strategy %q", cfg.Strategy)
	}
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("stepflowd"),
		kong.Description("stepflow troubleshooting chat service"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		slog.Error("stepflowd exited with error", "error", err)
		os.Exit(1)
	}
}
