package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/streaming"
	"github.com/droverhq/drover/pkg/schema"
)

// Store is the narrow view of the checkpoint store the engine needs.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) error
	LatestCheckpoint(ctx context.Context, runID string) (*checkpoint.Checkpoint, error)
	UpdateRunStatus(ctx context.Context, runID string, status schema.RunStatus, errMsg string) error
	AppendEvent(ctx context.Context, event *checkpoint.Event) error
}

// Outcome is the observable result of driving a run forward: either the run
// reached a terminal node, or it suspended awaiting external input.
type Outcome struct {
	State     *schema.State
	Suspended bool
	Interrupt *schema.InterruptPayload
}

// EngineDeps holds the engine's collaborators.
type EngineDeps struct {
	Graph  *Graph
	Store  Store
	Hub    streaming.EventHub
	Pool   *WorkerPool
	Logger *slog.Logger
	Retry  *schema.RetryPolicy
}

// Engine executes a graph as a sequence of supersteps. Within a superstep
// the frontier's nodes run concurrently on isolated state clones; their
// patches are merged in declared order; the deduplicated successor set is
// the next frontier, which realizes the fan-in barrier. A checkpoint is
// written after every superstep.
type Engine struct {
	graph  *Graph
	store  Store
	hub    streaming.EventHub
	pool   *WorkerPool
	logger *slog.Logger
	fsm    *RunFSM
	retry  schema.RetryPolicy
}

// NewEngine creates an Engine.
func NewEngine(deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	retry := schema.DefaultRetryPolicy()
	if deps.Retry != nil {
		retry = *deps.Retry
	}
	pool := deps.Pool
	if pool == nil {
		pool = NewWorkerPool(4)
	}
	return &Engine{
		graph:  deps.Graph,
		store:  deps.Store,
		hub:    deps.Hub,
		pool:   pool,
		logger: logger,
		fsm:    NewRunFSM(deps.Store),
		retry:  retry,
	}
}

// Run starts a fresh run from the graph entry node.
func (e *Engine) Run(ctx context.Context, runID string, initial *schema.State) (*Outcome, error) {
	ctx = logging.WithRunID(ctx, runID)
	if err := e.fsm.Transition(ctx, runID, schema.RunStatusPending, schema.RunStatusRunning, ""); err != nil {
		return nil, err
	}
	return e.loop(ctx, runID, initial, []string{e.graph.Entry()}, 0, nil)
}

// Resume continues a suspended run, delivering resumeValue to the node that
// raised the interrupt. The node is re-invoked from its start with the
// value injected, then the run proceeds normally.
func (e *Engine) Resume(ctx context.Context, runID, resumeValue string) (*Outcome, error) {
	ctx = logging.WithRunID(ctx, runID)

	cp, err := e.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no checkpoint for run %s", runID)
	}
	if cp.Interrupt == nil {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "run %s has no pending interrupt", runID)
	}

	if err := e.fsm.Transition(ctx, runID, schema.RunStatusWaitingForInput, schema.RunStatusRunning, ""); err != nil {
		return nil, err
	}
	e.emit(ctx, runID, "", schema.EventRunResumed, map[string]any{"node_id": cp.Interrupt.NodeID})

	carrier := &resumeCarrier{nodeID: cp.Interrupt.NodeID, value: resumeValue}
	return e.loop(ctx, runID, cp.State, cp.Frontier, cp.Superstep, carrier)
}

// loop drives supersteps until the run terminates, suspends or fails.
func (e *Engine) loop(ctx context.Context, runID string, state *schema.State, frontier []string, superstep int, carrier *resumeCarrier) (*Outcome, error) {
	for len(frontier) > 0 {
		merged, next, terminal, err := e.runSuperstep(ctx, runID, state, frontier, carrier)
		carrier = nil // a resume value is delivered at most once

		if err != nil {
			var intr *InterruptError
			if errors.As(err, &intr) {
				return e.suspend(ctx, runID, state, frontier, superstep, intr)
			}
			return nil, e.fail(ctx, runID, err)
		}

		state = merged
		superstep++
		if terminal {
			frontier = nil
		} else {
			frontier = next
		}

		cp := &checkpoint.Checkpoint{
			RunID:     runID,
			Superstep: superstep,
			State:     state,
			Frontier:  frontier,
		}
		if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
			return nil, e.fail(ctx, runID, schema.NewErrorf(schema.ErrCodeStore, "save checkpoint: %s", err.Error()).WithCause(err))
		}
	}

	if err := e.fsm.Transition(ctx, runID, schema.RunStatusRunning, schema.RunStatusCompleted, ""); err != nil {
		return nil, err
	}
	return &Outcome{State: state}, nil
}

// suspend parks the run: the checkpoint keeps the same frontier so resume
// re-executes the interrupted superstep, with the pending payload recorded.
func (e *Engine) suspend(ctx context.Context, runID string, state *schema.State, frontier []string, superstep int, intr *InterruptError) (*Outcome, error) {
	cp := &checkpoint.Checkpoint{
		RunID:     runID,
		Superstep: superstep,
		State:     state,
		Frontier:  frontier,
		Interrupt: &intr.Payload,
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, e.fail(ctx, runID, schema.NewErrorf(schema.ErrCodeStore, "save suspension checkpoint: %s", err.Error()).WithCause(err))
	}
	if err := e.fsm.Transition(ctx, runID, schema.RunStatusRunning, schema.RunStatusWaitingForInput, ""); err != nil {
		return nil, err
	}
	e.emit(ctx, runID, intr.Payload.NodeID, schema.EventRunSuspended, intr.Payload)
	return &Outcome{State: state, Suspended: true, Interrupt: &intr.Payload}, nil
}

// fail records the terminal error status. The last durable checkpoint is
// left intact for inspection.
func (e *Engine) fail(ctx context.Context, runID string, cause error) error {
	status := schema.RunStatusError
	if errors.Is(cause, context.Canceled) {
		status = schema.RunStatusCancelled
	}
	if err := e.fsm.Transition(ctx, runID, schema.RunStatusRunning, status, cause.Error()); err != nil {
		e.logger.ErrorContext(ctx, "failed to record run failure", slog.String("error", err.Error()))
	}
	return cause
}

// runSuperstep executes the frontier. Branch results are delivered
// all-or-nothing: one fatal branch fails the whole superstep and no patch
// is merged. Patches merge in frontier declaration order, never completion
// order, so transcripts stay reproducible.
func (e *Engine) runSuperstep(ctx context.Context, runID string, state *schema.State, frontier []string, carrier *resumeCarrier) (*schema.State, []string, bool, error) {
	type branchResult struct {
		cmd schema.Command
		err error
	}
	results := make([]branchResult, len(frontier))

	if len(frontier) == 1 {
		cmd, err := e.safeInvoke(ctx, runID, frontier[0], state, carrier)
		results[0] = branchResult{cmd: cmd, err: err}
	} else {
		done := make(chan struct{}, len(frontier))
		for i, nodeID := range frontier {
			i, nodeID := i, nodeID
			branchState := state.Clone()
			if err := e.pool.Submit(ctx, func(ctx context.Context) error {
				defer func() { done <- struct{}{} }()
				cmd, err := e.safeInvoke(ctx, runID, nodeID, branchState, carrier)
				results[i] = branchResult{cmd: cmd, err: err}
				return err
			}); err != nil {
				results[i] = branchResult{err: err}
				done <- struct{}{}
			}
		}
		for range frontier {
			<-done
		}
	}

	// An interrupt wins over merge; more than one outstanding is a usage
	// error.
	var interrupt *InterruptError
	for _, r := range results {
		var intr *InterruptError
		if errors.As(r.err, &intr) {
			if interrupt != nil {
				return nil, nil, false, schema.NewError(schema.ErrCodeConflict,
					"multiple interrupts raised in one superstep")
			}
			interrupt = intr
		}
	}
	if interrupt != nil {
		return nil, nil, false, interrupt
	}

	for i, r := range results {
		if r.err != nil {
			return nil, nil, false, schema.NewErrorf(schema.ErrCodeNodeFailed,
				"node %s failed: %s", frontier[i], r.err.Error()).
				WithNode(frontier[i]).WithCause(r.err)
		}
	}

	// Merge patches and resolve successors in declared order; duplicate
	// targets collapse, which is what joins two branches on one node.
	merged := state
	var next []string
	seen := make(map[string]bool)
	terminal := false
	for i, r := range results {
		merged = schema.Apply(merged, r.cmd.Patch)
		n := e.graph.nodes[frontier[i]]
		targets, isTerminal, err := e.graph.resolveNext(n, r.cmd, merged)
		if err != nil {
			return nil, nil, false, err
		}
		if isTerminal {
			terminal = true
			continue
		}
		for _, t := range targets {
			if !seen[t] {
				seen[t] = true
				next = append(next, t)
			}
		}
	}
	if terminal {
		return merged, nil, true, nil
	}
	return merged, next, false, nil
}

// safeInvoke converts a panic in a node handler into a node failure. A
// panicked branch must surface as an error, never as a zero-value command
// the merge would treat as success.
func (e *Engine) safeInvoke(ctx context.Context, runID, nodeID string, state *schema.State, carrier *resumeCarrier) (cmd schema.Command, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeNodeFailed, "node %s panicked: %v", nodeID, r).WithNode(nodeID)
		}
	}()
	return e.invokeNode(ctx, runID, nodeID, state, carrier)
}

// invokeNode runs one node under the retry policy.
func (e *Engine) invokeNode(ctx context.Context, runID, nodeID string, state *schema.State, carrier *resumeCarrier) (schema.Command, error) {
	n, ok := e.graph.nodes[nodeID]
	if !ok {
		return schema.Command{}, schema.NewErrorf(schema.ErrCodeGraph, "unknown node %q", nodeID)
	}

	policy := e.retry
	if n.retry != nil {
		policy = *n.retry
	}
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	nodeCtx := withNodeID(logging.WithNodeID(ctx, nodeID), nodeID)
	if carrier != nil {
		nodeCtx = withResumeCarrier(nodeCtx, carrier)
	}

	e.emit(ctx, runID, nodeID, schema.EventNodeStarted, nil)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			e.emit(ctx, runID, nodeID, schema.EventNodeRetrying, map[string]any{"attempt": attempt + 1})
			if err := WaitForBackoff(ctx, ComputeBackoff(policy, attempt-1)); err != nil {
				return schema.Command{}, err
			}
		}

		cmd, err := n.fn(nodeCtx, state)
		if err == nil {
			e.emit(ctx, runID, nodeID, schema.EventNodeCompleted, nil)
			return cmd, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			var intr *InterruptError
			if errors.As(err, &intr) {
				return schema.Command{}, err
			}
			e.emit(ctx, runID, nodeID, schema.EventNodeFailed, map[string]any{"error": err.Error()})
			return schema.Command{}, err
		}
		e.logger.WarnContext(nodeCtx, "node attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	e.emit(ctx, runID, nodeID, schema.EventNodeFailed, map[string]any{"error": lastErr.Error()})
	return schema.Command{}, schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"node %s: %d attempts exhausted: %s", nodeID, attempts, lastErr.Error()).
		WithNode(nodeID).WithCause(lastErr)
}

// emit publishes to the hub and the event log. Event failures are logged,
// never fatal to the run.
func (e *Engine) emit(ctx context.Context, runID, nodeID, eventType string, payload any) {
	if e.hub != nil {
		ev := streaming.StreamEvent{RunID: runID, NodeID: nodeID, EventType: eventType, Payload: payload}
		if err := e.hub.Publish(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "event publish failed", slog.String("error", err.Error()))
		}
	}
	if err := e.store.AppendEvent(ctx, &checkpoint.Event{RunID: runID, NodeID: nodeID, Type: eventType, Payload: payload}); err != nil {
		e.logger.WarnContext(ctx, "event log append failed", slog.String("error", err.Error()))
	}
}

// Describe returns a short human-readable summary of an outcome, used for
// progress messages.
func (o *Outcome) Describe() string {
	if o.Suspended {
		return fmt.Sprintf("suspended at %s", o.Interrupt.NodeID)
	}
	return "completed"
}
