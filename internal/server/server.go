// Package server exposes the pipeline over HTTP: a JSON API for creating,
// inspecting, resuming and cancelling runs, and SSE streams for watching
// them live. Runs execute on background goroutines tracked by the session
// registry; handlers return as soon as the run is launched.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/graph"
	"github.com/droverhq/drover/internal/pipeline"
	"github.com/droverhq/drover/internal/session"
	"github.com/droverhq/drover/internal/streaming"
)

// Deps holds the server's collaborators. NewEngine builds an engine for a
// run's pipeline configuration; the server fills in only the per-run
// fields, the factory owns everything else.
type Deps struct {
	Store     checkpoint.Store
	Hub       streaming.EventHub
	Registry  *session.Registry
	Logger    *slog.Logger
	NewEngine func(cfg pipeline.Config) (*graph.Engine, error)

	// Stages seeds the initial state of new runs. Must match the stages
	// the factory builds graphs for. Defaults to the standard five.
	Stages []pipeline.StageConfig
}

// Server serves the run API and SSE streams.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Stages == nil {
		deps.Stages = pipeline.DefaultStageConfigs()
	}
	return &Server{deps: deps, logger: deps.Logger}
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("POST /api/runs/{id}/resume", s.handleResumeRun)
	mux.HandleFunc("POST /api/runs/{id}/cancel", s.handleCancelRun)

	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/runs/{id}", s.handleSSERun)

	return mux
}

// launch drives a run on a background goroutine. The registry entry lives
// exactly as long as the goroutine; the engine records run status itself.
func (s *Server) launch(runID string, drive func(ctx context.Context) (*graph.Outcome, error)) error {
	runCtx, cancel := context.WithCancel(context.Background())
	if err := s.deps.Registry.Add(runID, cancel); err != nil {
		cancel()
		return err
	}

	go func() {
		defer cancel()
		defer s.deps.Registry.Remove(runID)

		outcome, err := drive(runCtx)
		if err != nil {
			s.logger.Error("run finished with error",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Info("run "+outcome.Describe(), slog.String("run_id", runID))
	}()
	return nil
}

// decodeJSON decodes a JSON request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %v", err)
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
