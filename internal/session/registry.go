// Package session tracks the runs currently active in this process. The
// registry is the process-wide map of run ID to in-flight execution:
// inserted when a run starts, status-mutated only by the goroutine driving
// the run, and removed when the run reaches a terminal status.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/droverhq/drover/pkg/schema"
)

// ActiveRun is the registry's view of one in-flight run.
type ActiveRun struct {
	ID        string
	Status    schema.RunStatus
	StartedAt time.Time
	cancel    context.CancelFunc
}

// Registry is safe for concurrent use; a single mutex guards the map.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*ActiveRun
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*ActiveRun)}
}

// Add inserts a run with its cancellation hook. Adding an ID that is
// already active is a conflict.
func (r *Registry) Add(id string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s is already active", id)
	}
	r.runs[id] = &ActiveRun{
		ID:        id,
		Status:    schema.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		cancel:    cancel,
	}
	return nil
}

// SetStatus records the run's current status. Unknown IDs are ignored:
// the run may already have been removed by its owner.
func (r *Registry) SetStatus(id string, status schema.RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		run.Status = status
	}
}

// Get returns a snapshot of an active run.
func (r *Registry) Get(id string) (ActiveRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return ActiveRun{}, false
	}
	return *run, true
}

// List returns snapshots of all active runs.
func (r *Registry) List() []ActiveRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActiveRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, *run)
	}
	return out
}

// Cancel fires the run's cancellation hook. Reports whether the run was
// active. The entry stays until the owning goroutine observes the
// cancellation and removes it.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	run, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if run.cancel != nil {
		run.cancel()
	}
	return true
}

// Remove deletes the entry. Called by the owning goroutine once the run
// reaches a terminal status.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

// Len reports how many runs are active.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// IsQuit reports whether a resume value is the quit signal: "q" or "quit",
// case-insensitively. A suspended run receiving it is cancelled instead of
// resumed.
func IsQuit(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case schema.ResumeQuit, schema.ResumeQuitQ:
		return true
	}
	return false
}
