package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/graph"
	"github.com/droverhq/drover/internal/pipeline"
	"github.com/droverhq/drover/internal/session"
	"github.com/droverhq/drover/internal/streaming"
	"github.com/droverhq/drover/pkg/schema"
)

// handleRun creates a run and drives it to its first stop.
func (s *DroverServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	objective, err := req.RequireString("objective")
	if err != nil {
		return mcp.NewToolResultError("objective is required"), nil
	}

	artifacts, parseErr := parseArtifacts(req)
	if parseErr != nil {
		return mcp.NewToolResultError(parseErr.Error()), nil
	}

	hitl := req.GetBool("human_in_the_loop", false)
	engine, engErr := s.newEngine(pipeline.Config{
		UseHumanInTheLoop: hitl,
		SkipFirstStage:    req.GetBool("skip_first_stage", false),
		Stages:            s.stages,
	})
	if engErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build pipeline: %v", engErr)), nil
	}

	runID := uuid.New().String()
	if createErr := s.store.CreateRun(ctx, &checkpoint.Run{
		ID:             runID,
		Objective:      objective,
		Status:         schema.RunStatusPending,
		HumanInTheLoop: hitl,
	}); createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create run: %v", createErr)), nil
	}

	initial := &schema.State{
		Objective: objective,
		Stages:    pipeline.DefaultStages(s.stages),
		Artifacts: artifacts,
	}
	return s.drive(ctx, runID, func(runCtx context.Context) (*graph.Outcome, error) {
		return engine.Run(runCtx, runID, initial)
	})
}

// handleResume delivers input to a suspended run and drives it to its next
// stop. The quit signal cancels the run instead of resuming it.
func (s *DroverServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	input := req.GetString("input", "")

	run, getErr := s.store.GetRun(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run not found: %v", getErr)), nil
	}
	if run.Status != schema.RunStatusWaitingForInput {
		return mcp.NewToolResultError(fmt.Sprintf("run is %s, not waiting for input", run.Status)), nil
	}

	if session.IsQuit(input) {
		if cancelErr := s.cancelSuspended(ctx, runID); cancelErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to cancel run: %v", cancelErr)), nil
		}
		return marshalResult(map[string]any{
			"run_id": runID,
			"status": string(schema.RunStatusCancelled),
		})
	}

	// The graph was built for the run's review mode; resuming must use
	// the same one or the rendezvous would change behavior mid-run.
	engine, engErr := s.newEngine(pipeline.Config{
		UseHumanInTheLoop: run.HumanInTheLoop,
		Stages:            s.stages,
	})
	if engErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build pipeline: %v", engErr)), nil
	}

	return s.drive(ctx, runID, func(runCtx context.Context) (*graph.Outcome, error) {
		return engine.Resume(runCtx, runID, input)
	})
}

// handleStatus returns the run record with stage progress and any pending
// interrupt payload.
func (s *DroverServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	run, getErr := s.store.GetRun(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run not found: %v", getErr)), nil
	}

	result := map[string]any{"run": run}
	cp, cpErr := s.store.LatestCheckpoint(ctx, runID)
	if cpErr == nil && cp != nil {
		result["superstep"] = cp.Superstep
		if cp.State != nil {
			result["stages"] = cp.State.Stages
			if run.Status == schema.RunStatusCompleted {
				result["final_report"] = finalReport(cp.State)
			}
		}
		if cp.Interrupt != nil {
			result["interrupt"] = cp.Interrupt
		}
	}
	return marshalResult(result)
}

// handleCancel cancels an executing or suspended run.
func (s *DroverServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	// An actively executing run has a registry entry; cancelling its
	// context lets the engine record the cancelled status itself.
	if s.registry.Cancel(runID) {
		return marshalResult(map[string]any{
			"run_id": runID,
			"status": string(schema.RunStatusCancelled),
		})
	}

	run, getErr := s.store.GetRun(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run not found: %v", getErr)), nil
	}
	if run.Status != schema.RunStatusWaitingForInput {
		return mcp.NewToolResultError(fmt.Sprintf("run is %s, nothing to cancel", run.Status)), nil
	}
	if cancelErr := s.cancelSuspended(ctx, runID); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to cancel run: %v", cancelErr)), nil
	}
	return marshalResult(map[string]any{
		"run_id": runID,
		"status": string(schema.RunStatusCancelled),
	})
}

// handleQuery lists runs or run events based on filters.
func (s *DroverServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *DroverServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := checkpoint.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok {
		rf.Status = schema.RunStatus(status)
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *DroverServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runID, ok := filter["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("event query requires 'run_id' in filter"), nil
	}
	afterID := int64(extractInt(filter, "after", 0))
	limit := extractInt(filter, "limit", 100)

	events, err := s.store.ListEvents(ctx, runID, afterID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// --- Internal helpers ---

// drive executes a run synchronously, tracked in the registry so
// drover.cancel can reach it from another session.
func (s *DroverServer) drive(ctx context.Context, runID string, fn func(context.Context) (*graph.Outcome, error)) (*mcp.CallToolResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.registry.Add(runID, cancel); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %s is already executing", runID)), nil
	}
	defer s.registry.Remove(runID)

	outcome, err := fn(runCtx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %s failed: %v", runID, err)), nil
	}
	return marshalResult(outcomeResult(runID, outcome))
}

// outcomeResult shapes an engine outcome for the tool caller.
func outcomeResult(runID string, o *graph.Outcome) map[string]any {
	if o.Suspended {
		return map[string]any{
			"run_id":          runID,
			"status":          string(schema.RunStatusWaitingForInput),
			"node_id":         o.Interrupt.NodeID,
			"message_to_user": o.Interrupt.MessageToUser,
		}
	}
	result := map[string]any{
		"run_id": runID,
		"status": string(schema.RunStatusCompleted),
	}
	if report := finalReport(o.State); report != "" {
		result["final_report"] = report
	}
	return result
}

// cancelSuspended marks a suspended run cancelled. No goroutine is driving
// it, so the status is written directly; the checkpoint stays for
// inspection.
func (s *DroverServer) cancelSuspended(ctx context.Context, runID string) error {
	if err := s.store.UpdateRunStatus(ctx, runID, schema.RunStatusCancelled, "cancelled by user"); err != nil {
		return err
	}
	if s.hub != nil {
		ev := streaming.StreamEvent{RunID: runID, EventType: schema.EventRunCancelled}
		if err := s.hub.Publish(ctx, ev); err != nil {
			s.logger.Warn("event publish failed", "run_id", runID, "error", err.Error())
		}
	}
	if err := s.store.AppendEvent(ctx, &checkpoint.Event{RunID: runID, Type: schema.EventRunCancelled}); err != nil {
		s.logger.Warn("event log append failed", "run_id", runID, "error", err.Error())
	}
	return nil
}

// finalReport returns the report of the last completed stage.
func finalReport(state *schema.State) string {
	var report string
	order := 0
	for _, st := range state.Stages {
		if st.Completed && st.Order > order {
			order = st.Order
			report = st.Report
		}
	}
	return report
}

// parseArtifacts decodes the artifacts argument into typed artifacts.
func parseArtifacts(req mcp.CallToolRequest) ([]schema.Artifact, error) {
	raw, ok := req.GetArguments()["artifacts"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid artifacts: %v", err)
	}
	var artifacts []schema.Artifact
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return nil, fmt.Errorf("invalid artifacts: %v", err)
	}
	for _, a := range artifacts {
		if a.Key == "" {
			return nil, fmt.Errorf("artifact key is required")
		}
		switch a.Kind {
		case schema.ArtifactTabular, schema.ArtifactStructured, schema.ArtifactText, schema.ArtifactString, schema.ArtifactImage:
		default:
			return nil, fmt.Errorf("artifact %s: unknown kind %q", a.Key, a.Kind)
		}
	}
	return artifacts, nil
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
