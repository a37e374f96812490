package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/graph"
	"github.com/droverhq/drover/internal/pipeline"
	"github.com/droverhq/drover/internal/session"
	"github.com/droverhq/drover/internal/streaming"
	"github.com/droverhq/drover/pkg/schema"
)

// The test graph is a single node whose behavior is keyed on the run's
// objective, so tool tests can exercise completion and suspension without
// the full pipeline behind them.
type testEnv struct {
	store *checkpoint.MemoryStore
	srv   *DroverServer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := checkpoint.NewMemoryStore()

	factory := func(cfg pipeline.Config) (*graph.Engine, error) {
		b := graph.NewBuilder()
		b.AddNode("start", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			switch s.Objective {
			case "suspend":
				value, err := graph.Interrupt(ctx, "What next?")
				if err != nil {
					return schema.Command{}, err
				}
				obj := "resumed: " + value
				return schema.Terminal(schema.Patch{Objective: &obj}), nil
			default:
				return schema.Terminal(schema.Patch{
					Stages: []schema.Stage{{Order: 1, Completed: true, Report: "All done."}},
				}), nil
			}
		}).SetEntry("start")
		g, err := b.Build()
		if err != nil {
			return nil, err
		}
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		return graph.NewEngine(graph.EngineDeps{Graph: g, Store: store, Logger: logger}), nil
	}

	srv := NewDroverServer(DroverServerDeps{
		Store:     store,
		Hub:       streaming.NewMemoryHub(),
		Registry:  session.NewRegistry(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewEngine: factory,
	})
	return &testEnv{store: store, srv: srv}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

// resultJSON decodes the JSON text content of a successful tool result.
func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.False(t, result.IsError)
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			var out map[string]any
			require.NoError(t, json.Unmarshal([]byte(tc.Text), &out))
			return out
		}
	}
	t.Fatal("no text content in result")
	return nil
}

func TestRunTool(t *testing.T) {
	env := newTestEnv(t)

	req := buildRequest("drover.run", map[string]any{
		"objective": "finish",
		"artifacts": []any{
			map[string]any{"key": "notes", "kind": "text", "value": "raw text"},
		},
	})
	result, err := env.srv.handleRun(context.Background(), req)
	require.NoError(t, err)

	out := resultJSON(t, result)
	assert.Equal(t, string(schema.RunStatusCompleted), out["status"])
	assert.Equal(t, "All done.", out["final_report"])

	runID := out["run_id"].(string)
	run, err := env.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	assert.Equal(t, "finish", run.Objective)
}

func TestRunToolMissingObjective(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.srv.handleRun(context.Background(), buildRequest("drover.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunToolRejectsBadArtifacts(t *testing.T) {
	env := newTestEnv(t)

	req := buildRequest("drover.run", map[string]any{
		"objective": "finish",
		"artifacts": []any{
			map[string]any{"key": "df", "kind": "spreadsheet", "value": "x"},
		},
	})
	result, err := env.srv.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunToolSurfacesSuspension(t *testing.T) {
	env := newTestEnv(t)

	req := buildRequest("drover.run", map[string]any{
		"objective":         "suspend",
		"human_in_the_loop": true,
	})
	result, err := env.srv.handleRun(context.Background(), req)
	require.NoError(t, err)

	out := resultJSON(t, result)
	assert.Equal(t, string(schema.RunStatusWaitingForInput), out["status"])
	assert.Equal(t, "What next?", out["message_to_user"])
	assert.Equal(t, "start", out["node_id"])
}

func TestResumeTool(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.srv.handleRun(context.Background(), buildRequest("drover.run", map[string]any{
		"objective": "suspend",
	}))
	require.NoError(t, err)
	runID := resultJSON(t, result)["run_id"].(string)

	result, err = env.srv.handleResume(context.Background(), buildRequest("drover.resume", map[string]any{
		"run_id": runID,
		"input":  "go on",
	}))
	require.NoError(t, err)

	out := resultJSON(t, result)
	assert.Equal(t, string(schema.RunStatusCompleted), out["status"])

	cp, err := env.store.LatestCheckpoint(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, "resumed: go on", cp.State.Objective)
}

func TestResumeToolQuitCancels(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.srv.handleRun(context.Background(), buildRequest("drover.run", map[string]any{
		"objective": "suspend",
	}))
	require.NoError(t, err)
	runID := resultJSON(t, result)["run_id"].(string)

	result, err = env.srv.handleResume(context.Background(), buildRequest("drover.resume", map[string]any{
		"run_id": runID,
		"input":  "q",
	}))
	require.NoError(t, err)
	assert.Equal(t, string(schema.RunStatusCancelled), resultJSON(t, result)["status"])

	run, err := env.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCancelled, run.Status)
}

func TestResumeToolRejectsSettledRun(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.srv.handleRun(context.Background(), buildRequest("drover.run", map[string]any{
		"objective": "finish",
	}))
	require.NoError(t, err)
	runID := resultJSON(t, result)["run_id"].(string)

	result, err = env.srv.handleResume(context.Background(), buildRequest("drover.resume", map[string]any{
		"run_id": runID,
		"input":  "pass",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.srv.handleRun(context.Background(), buildRequest("drover.run", map[string]any{
		"objective": "suspend",
	}))
	require.NoError(t, err)
	runID := resultJSON(t, result)["run_id"].(string)

	result, err = env.srv.handleStatus(context.Background(), buildRequest("drover.status", map[string]any{
		"run_id": runID,
	}))
	require.NoError(t, err)

	out := resultJSON(t, result)
	run := out["run"].(map[string]any)
	assert.Equal(t, string(schema.RunStatusWaitingForInput), run["status"])
	interrupt := out["interrupt"].(map[string]any)
	assert.Equal(t, "What next?", interrupt["message_to_user"])
}

func TestStatusToolUnknownRun(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.srv.handleStatus(context.Background(), buildRequest("drover.status", map[string]any{
		"run_id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCancelToolSuspendedRun(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.srv.handleRun(context.Background(), buildRequest("drover.run", map[string]any{
		"objective": "suspend",
	}))
	require.NoError(t, err)
	runID := resultJSON(t, result)["run_id"].(string)

	result, err = env.srv.handleCancel(context.Background(), buildRequest("drover.cancel", map[string]any{
		"run_id": runID,
	}))
	require.NoError(t, err)
	assert.Equal(t, string(schema.RunStatusCancelled), resultJSON(t, result)["status"])

	run, err := env.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCancelled, run.Status)
}

func TestQueryTool(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.srv.handleRun(context.Background(), buildRequest("drover.run", map[string]any{
		"objective": "finish",
	}))
	require.NoError(t, err)
	runID := resultJSON(t, result)["run_id"].(string)

	result, err = env.srv.handleQuery(context.Background(), buildRequest("drover.query", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"status": "completed"},
	}))
	require.NoError(t, err)
	assert.Len(t, resultJSON(t, result)["runs"], 1)

	result, err = env.srv.handleQuery(context.Background(), buildRequest("drover.query", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"run_id": runID},
	}))
	require.NoError(t, err)
	assert.NotEmpty(t, resultJSON(t, result)["events"])

	// Events need a run scope.
	result, err = env.srv.handleQuery(context.Background(), buildRequest("drover.query", map[string]any{
		"resource": "events",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = env.srv.handleQuery(context.Background(), buildRequest("drover.query", map[string]any{
		"resource": "checkpoints",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
