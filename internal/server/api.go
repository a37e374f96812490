package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/graph"
	"github.com/droverhq/drover/internal/pipeline"
	"github.com/droverhq/drover/internal/session"
	"github.com/droverhq/drover/internal/streaming"
	"github.com/droverhq/drover/pkg/schema"
)

// handleCreateRun creates a run and starts executing it in the background.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Objective      string            `json:"objective"`
		Artifacts      []schema.Artifact `json:"artifacts"`
		HumanInTheLoop bool              `json:"human_in_the_loop"`
		SkipFirstStage bool              `json:"skip_first_stage"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Objective == "" {
		writeError(w, http.StatusBadRequest, "objective is required")
		return
	}
	if err := validateArtifacts(body.Artifacts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	engine, err := s.deps.NewEngine(pipeline.Config{
		UseHumanInTheLoop: body.HumanInTheLoop,
		SkipFirstStage:    body.SkipFirstStage,
		Stages:            s.deps.Stages,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("build pipeline: %v", err))
		return
	}

	runID := uuid.New().String()
	if err := s.deps.Store.CreateRun(ctx, &checkpoint.Run{
		ID:             runID,
		Objective:      body.Objective,
		Status:         schema.RunStatusPending,
		HumanInTheLoop: body.HumanInTheLoop,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create run: %v", err))
		return
	}

	initial := &schema.State{
		Objective: body.Objective,
		Stages:    pipeline.DefaultStages(s.deps.Stages),
		Artifacts: body.Artifacts,
	}
	if err := s.launch(runID, func(runCtx context.Context) (*graph.Outcome, error) {
		return engine.Run(runCtx, runID, initial)
	}); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("launch run: %v", err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"run_id": runID,
		"status": string(schema.RunStatusRunning),
	})
}

// handleListRuns lists runs, optionally filtered by status.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := checkpoint.RunFilter{
		Status: schema.RunStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
	}
	runs, err := s.deps.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list runs: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns the run record with its current stage progress and,
// when suspended, the pending interrupt payload.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("id")

	run, err := s.deps.Store.GetRun(ctx, runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	resp := map[string]any{"run": run}
	cp, err := s.deps.Store.LatestCheckpoint(ctx, runID)
	if err == nil && cp != nil {
		resp["superstep"] = cp.Superstep
		if cp.State != nil {
			resp["stages"] = cp.State.Stages
			if run.Status == schema.RunStatusCompleted {
				resp["final_report"] = finalReport(cp.State)
			}
		}
		if cp.Interrupt != nil {
			resp["interrupt"] = cp.Interrupt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRunEvents pages through the run's event log.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	afterID := int64(queryInt(r, "after", 0))
	limit := queryInt(r, "limit", 100)

	events, err := s.deps.Store.ListEvents(r.Context(), runID, afterID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list events: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleResumeRun delivers input to a suspended run. The quit signal
// cancels the run instead of resuming it.
func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("id")

	var body struct {
		Input string `json:"input"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.deps.Store.GetRun(ctx, runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if run.Status != schema.RunStatusWaitingForInput {
		writeError(w, http.StatusConflict, fmt.Sprintf("run is %s, not waiting for input", run.Status))
		return
	}

	if session.IsQuit(body.Input) {
		if err := s.cancelSuspended(ctx, runID); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("cancel run: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"run_id": runID,
			"status": string(schema.RunStatusCancelled),
		})
		return
	}

	// The graph was built for the run's review mode; resuming must use
	// the same one or the rendezvous would change behavior mid-run.
	engine, err := s.deps.NewEngine(pipeline.Config{
		UseHumanInTheLoop: run.HumanInTheLoop,
		Stages:            s.deps.Stages,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("build pipeline: %v", err))
		return
	}

	input := body.Input
	if err := s.launch(runID, func(runCtx context.Context) (*graph.Outcome, error) {
		return engine.Resume(runCtx, runID, input)
	}); err != nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("launch resume: %v", err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(schema.RunStatusRunning),
	})
}

// handleCancelRun cancels an executing or suspended run.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("id")

	// An actively executing run has a registry entry; cancelling its
	// context lets the engine record the cancelled status itself.
	if s.deps.Registry.Cancel(runID) {
		writeJSON(w, http.StatusOK, map[string]string{
			"run_id": runID,
			"status": string(schema.RunStatusCancelled),
		})
		return
	}

	run, err := s.deps.Store.GetRun(ctx, runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if run.Status != schema.RunStatusWaitingForInput {
		writeError(w, http.StatusConflict, fmt.Sprintf("run is %s, nothing to cancel", run.Status))
		return
	}
	if err := s.cancelSuspended(ctx, runID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("cancel run: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"run_id": runID,
		"status": string(schema.RunStatusCancelled),
	})
}

// cancelSuspended marks a suspended run cancelled. No goroutine is driving
// it, so the status is written directly; the checkpoint stays for
// inspection.
func (s *Server) cancelSuspended(ctx context.Context, runID string) error {
	if err := s.deps.Store.UpdateRunStatus(ctx, runID, schema.RunStatusCancelled, "cancelled by user"); err != nil {
		return err
	}
	if s.deps.Hub != nil {
		ev := streaming.StreamEvent{RunID: runID, EventType: schema.EventRunCancelled}
		if err := s.deps.Hub.Publish(ctx, ev); err != nil {
			s.logger.Warn("event publish failed", "run_id", runID, "error", err.Error())
		}
	}
	if err := s.deps.Store.AppendEvent(ctx, &checkpoint.Event{RunID: runID, Type: schema.EventRunCancelled}); err != nil {
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

// validateArtifacts checks the input artifacts of a new run.
func validateArtifacts(artifacts []schema.Artifact) error {
	seen := make(map[string]bool, len(artifacts))
	for _, a := range artifacts {
		if a.Key == "" {
			return fmt.Errorf("artifact key is required")
		}
		if seen[a.Key] {
			return fmt.Errorf("duplicate artifact key %q", a.Key)
		}
		seen[a.Key] = true
		switch a.Kind {
		case schema.ArtifactTabular, schema.ArtifactStructured, schema.ArtifactText, schema.ArtifactString, schema.ArtifactImage:
		default:
			return fmt.Errorf("artifact %s: unknown kind %q", a.Key, a.Kind)
		}
		if len(a.Value) == 0 {
			return fmt.Errorf("artifact %s: value is required", a.Key)
		}
	}
	return nil
}
