// Package checkpoint provides durable persistence for pipeline runs: the
// run records, the per-superstep state checkpoints that make resume
// possible, and the append-only event log.
package checkpoint

import (
	"context"
	"time"

	"github.com/droverhq/drover/pkg/schema"
)

// Run is the durable record of one pipeline run.
type Run struct {
	ID             string           `json:"id"`
	Objective      string           `json:"objective"`
	Status         schema.RunStatus `json:"status"`
	HumanInTheLoop bool             `json:"human_in_the_loop"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Checkpoint is a durable snapshot taken after every superstep: the full
// state, the frontier of nodes to run next, and any pending interrupt.
// Reads always take the highest superstep for a run.
type Checkpoint struct {
	RunID     string                   `json:"run_id"`
	Superstep int                      `json:"superstep"`
	State     *schema.State            `json:"state"`
	Frontier  []string                 `json:"frontier"`
	Interrupt *schema.InterruptPayload `json:"interrupt,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
}

// Event is one entry in the append-only run event log.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id,omitempty"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status schema.RunStatus
	Limit  int
}

// Store is the durable checkpoint store. Writes are append-style per run;
// the superstep exclusivity rule means a run never has concurrent writers.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status schema.RunStatus, errMsg string) error
	DeleteRun(ctx context.Context, runID string) error

	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LatestCheckpoint(ctx context.Context, runID string) (*Checkpoint, error)

	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, runID string, afterID int64, limit int) ([]*Event, error)

	Close() error
}
