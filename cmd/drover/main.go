package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/graph"
	"github.com/droverhq/drover/internal/janitor"
	"github.com/droverhq/drover/internal/llm"
	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/pipeline"
	"github.com/droverhq/drover/internal/sandbox"
	"github.com/droverhq/drover/internal/server"
	"github.com/droverhq/drover/internal/session"
	"github.com/droverhq/drover/internal/streaming"
	"github.com/droverhq/drover/pkg/mcp"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	mcpMode := flag.Bool("mcp", false, "serve MCP over stdio instead of the HTTP API")
	flag.Parse()

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *mcpMode); err != nil {
		logger.Error("drover exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger, mcpMode bool) error {
	if err := os.MkdirAll(droverDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := checkpoint.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	hub := streaming.NewMemoryHub()
	registry := session.NewRegistry()

	agent, err := llm.NewChain(ctx, "agent", logger, cfg.Agent...)
	if err != nil {
		return fmt.Errorf("agent model: %w", err)
	}
	selector, err := llm.NewChain(ctx, "selector", logger, cfg.Selector...)
	if err != nil {
		return fmt.Errorf("selector model: %w", err)
	}
	validator, err := llm.NewChain(ctx, "validator", logger, cfg.Validator...)
	if err != nil {
		return fmt.Errorf("validator model: %w", err)
	}
	critics := make([]llm.Client, 0, len(cfg.Critics))
	for i, mc := range cfg.Critics {
		critic, chainErr := llm.NewChain(ctx, fmt.Sprintf("critic-%d", i+1), logger, mc)
		if chainErr != nil {
			return fmt.Errorf("critic model %d: %w", i+1, chainErr)
		}
		critics = append(critics, critic)
	}

	pipeDeps := pipeline.Deps{
		Agent:     agent,
		Selector:  selector,
		Validator: validator,
		Critics:   critics,
		Sandbox:   sandbox.NewHTTPClient(cfg.SandboxURL, cfg.SandboxAPIKey),
		Hub:       hub,
		Logger:    logger,
	}
	pool := graph.NewWorkerPool(cfg.PoolSize)
	defer pool.Shutdown()
	newEngine := func(pcfg pipeline.Config) (*graph.Engine, error) {
		pcfg.TerminateOnFirstStageBudget = cfg.TerminateOnFirst
		g, buildErr := pipeline.New(pipeDeps, pcfg)
		if buildErr != nil {
			return nil, buildErr
		}
		return graph.NewEngine(graph.EngineDeps{
			Graph:  g,
			Store:  store,
			Hub:    hub,
			Pool:   pool,
			Logger: logger,
		}), nil
	}

	jan, err := janitor.New(store, logger, janitor.Options{
		Schedule:  cfg.JanitorSchedule,
		Retention: cfg.Retention(),
	})
	if err != nil {
		return fmt.Errorf("janitor: %w", err)
	}
	if err := jan.Start(ctx); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer jan.Stop()

	if mcpMode {
		logger.Info("serving MCP over stdio")
		return mcp.NewDroverServer(mcp.DroverServerDeps{
			Store:     store,
			Hub:       hub,
			Registry:  registry,
			Logger:    logger,
			NewEngine: newEngine,
		}).Serve(ctx)
	}

	srv := server.New(server.Deps{
		Store:     store,
		Hub:       hub,
		Registry:  registry,
		Logger:    logger,
		NewEngine: newEngine,
	})
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info("drover listening", slog.String("addr", cfg.ListenAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
