// Package mcp exposes the pipeline as MCP tools over stdio, so agent
// clients can start runs, answer suspensions and inspect progress without
// the HTTP API. Run and resume are synchronous: the tool call returns when
// the run completes, suspends or fails, carrying the payload the caller
// needs next.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/graph"
	"github.com/droverhq/drover/internal/pipeline"
	"github.com/droverhq/drover/internal/session"
	"github.com/droverhq/drover/internal/streaming"
)

// DroverServerDeps holds the dependencies for creating a DroverServer.
// NewEngine builds an engine for a run's pipeline configuration.
type DroverServerDeps struct {
	Store     checkpoint.Store
	Hub       streaming.EventHub
	Registry  *session.Registry
	Logger    *slog.Logger
	NewEngine func(cfg pipeline.Config) (*graph.Engine, error)

	// Stages seeds the initial state of new runs. Defaults to the
	// standard five.
	Stages []pipeline.StageConfig
}

// DroverServer wraps an MCP server with drover-specific tool handlers.
type DroverServer struct {
	store     checkpoint.Store
	hub       streaming.EventHub
	registry  *session.Registry
	logger    *slog.Logger
	newEngine func(cfg pipeline.Config) (*graph.Engine, error)
	stages    []pipeline.StageConfig
	mcpServer *server.MCPServer
}

// NewDroverServer creates a new DroverServer with all 5 tools registered.
func NewDroverServer(deps DroverServerDeps) *DroverServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	stages := deps.Stages
	if stages == nil {
		stages = pipeline.DefaultStageConfigs()
	}

	s := &DroverServer{
		store:     deps.Store,
		hub:       deps.Hub,
		registry:  deps.Registry,
		logger:    logger,
		newEngine: deps.NewEngine,
		stages:    stages,
	}

	mcpSrv := server.NewMCPServer(
		"drover",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Drover runs multi-stage data analysis pipelines over uploaded datasets. Use drover.run to start a run, drover.resume to answer a suspended run (pass/ignore/free text, or q to abort), drover.status to check progress, drover.cancel to stop a run, and drover.query to list runs or their events."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *DroverServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *DroverServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *DroverServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("drover.run",
		mcp.WithDescription("Start a data analysis pipeline run. Blocks until the run completes, suspends for input, or fails"),
		mcp.WithString("objective", mcp.Required(), mcp.Description("The analysis request to answer")),
		mcp.WithArray("artifacts", mcp.Description("Input artifacts: objects with key, kind (tabular/structured/text/string/image), description and value")),
		mcp.WithBoolean("human_in_the_loop", mcp.Description("Suspend at each stage boundary for user review (default: false)")),
		mcp.WithBoolean("skip_first_stage", mcp.Description("Trust the objective as given, skipping the clarification stage (default: false)")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("drover.resume",
		mcp.WithDescription("Deliver input to a suspended run. Blocks until the run completes, suspends again, or fails"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the suspended run")),
		mcp.WithString("input", mcp.Description("'pass' or empty to accept, 'ignore' to advance despite failed validation, 'q'/'quit' to abort, anything else is fed back to the agent")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("drover.status",
		mcp.WithDescription("Get run status, stage progress and any pending question"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("drover.cancel",
		mcp.WithDescription("Cancel an executing or suspended run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to cancel")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("drover.query",
		mcp.WithDescription("Query runs or run events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "events"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, limit for runs; run_id, after, limit for events)")),
	)
}
