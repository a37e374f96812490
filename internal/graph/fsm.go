package graph

import (
	"context"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/pkg/schema"
)

// ValidRunTransitions defines the allowed lifecycle transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:         {schema.RunStatusRunning, schema.RunStatusCancelled},
	schema.RunStatusRunning:         {schema.RunStatusWaitingForInput, schema.RunStatusCompleted, schema.RunStatusError, schema.RunStatusCancelled},
	schema.RunStatusWaitingForInput: {schema.RunStatusRunning, schema.RunStatusCancelled, schema.RunStatusError},
	schema.RunStatusCompleted:       {},
	schema.RunStatusCancelled:       {},
	schema.RunStatusError:           {},
}

// CanTransition reports whether from -> to is a legal run transition.
func CanTransition(from, to schema.RunStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// RunFSM validates and persists run status transitions, appending the
// corresponding lifecycle event.
type RunFSM struct {
	store Store
}

// NewRunFSM creates a RunFSM over the given store.
func NewRunFSM(store Store) *RunFSM {
	return &RunFSM{store: store}
}

// Transition validates from -> to, persists the new status and logs the
// lifecycle event. errMsg is recorded only for error transitions.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus, errMsg string) error {
	if !CanTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID})
	}
	if err := f.store.UpdateRunStatus(ctx, runID, to, errMsg); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist run status: %s", err.Error()).WithCause(err)
	}
	if eventType := runEventType(to); eventType != "" {
		ev := &checkpoint.Event{RunID: runID, Type: eventType}
		if errMsg != "" {
			ev.Payload = map[string]any{"error": errMsg}
		}
		if err := f.store.AppendEvent(ctx, ev); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
		}
	}
	return nil
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusWaitingForInput:
		return schema.EventRunSuspended
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusError:
		return schema.EventRunFailed
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	default:
		return ""
	}
}
