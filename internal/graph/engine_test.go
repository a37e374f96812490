package graph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/pkg/schema"
)

func say(role schema.Role, content string) schema.Message {
	return schema.Message{Role: role, Content: content}
}

func newTestEngine(t *testing.T, g *Graph) (*Engine, *checkpoint.MemoryStore) {
	t.Helper()
	store := checkpoint.NewMemoryStore()
	retry := schema.RetryPolicy{InitialInterval: time.Millisecond, BackoffFactor: 2, MaxAttempts: 3}
	eng := NewEngine(EngineDeps{Graph: g, Store: store, Retry: &retry})
	return eng, store
}

func startRun(t *testing.T, store *checkpoint.MemoryStore, runID string) {
	t.Helper()
	require.NoError(t, store.CreateRun(context.Background(), &checkpoint.Run{
		ID: runID, Objective: "test", Status: schema.RunStatusPending,
	}))
}

func TestEngine_LinearRunCompletes(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.Continue(schema.Patch{History: []schema.Message{say(schema.RoleUser, "a")}}), nil
		}).
		AddNode("b", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.Terminal(schema.Patch{History: []schema.Message{say(schema.RoleUser, "b")}}), nil
		}).
		AddEdge("a", "b").
		SetEntry("a").
		Build()
	require.NoError(t, err)

	eng, store := newTestEngine(t, g)
	startRun(t, store, "r1")

	out, err := eng.Run(context.Background(), "r1", &schema.State{})
	require.NoError(t, err)
	assert.False(t, out.Suspended)
	require.Len(t, out.State.Scratch.History, 2)
	assert.Equal(t, "a", out.State.Scratch.History[0].Content)
	assert.Equal(t, "b", out.State.Scratch.History[1].Content)

	run, err := store.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)

	// A checkpoint exists for every superstep.
	cp, err := store.LatestCheckpoint(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.Superstep)
	assert.Empty(t, cp.Frontier)
}

func TestEngine_RetryIdempotence(t *testing.T) {
	// A node that fails transiently once must yield the same final state as
	// one that succeeds immediately.
	var calls atomic.Int32
	build := func(failFirst bool) *Graph {
		g, err := NewBuilder().
			AddNode("flaky", func(ctx context.Context, s *schema.State) (schema.Command, error) {
				if failFirst && calls.Add(1) == 1 {
					return schema.Command{}, schema.NewError(schema.ErrCodeModel, "upstream 503")
				}
				return schema.Terminal(schema.Patch{History: []schema.Message{say(schema.RoleAssistant, "done")}}), nil
			}).
			SetEntry("flaky").
			Build()
		require.NoError(t, err)
		return g
	}

	engRetry, storeRetry := newTestEngine(t, build(true))
	startRun(t, storeRetry, "r1")
	withRetry, err := engRetry.Run(context.Background(), "r1", &schema.State{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	engClean, storeClean := newTestEngine(t, build(false))
	startRun(t, storeClean, "r2")
	clean, err := engClean.Run(context.Background(), "r2", &schema.State{})
	require.NoError(t, err)

	assert.Equal(t, clean.State.Scratch.History, withRetry.State.Scratch.History)
}

func TestEngine_RetryExhaustionFailsRun(t *testing.T) {
	g, err := NewBuilder().
		AddNode("always_fails", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.Command{}, errors.New("connection refused")
		}).
		SetEntry("always_fails").
		Build()
	require.NoError(t, err)

	eng, store := newTestEngine(t, g)
	startRun(t, store, "r1")

	_, err = eng.Run(context.Background(), "r1", &schema.State{})
	require.Error(t, err)

	var dErr *schema.DroverError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, schema.ErrCodeNodeFailed, dErr.Code)

	run, getErr := store.GetRun(context.Background(), "r1")
	require.NoError(t, getErr)
	assert.Equal(t, schema.RunStatusError, run.Status)
	assert.NotEmpty(t, run.Error)
}

func TestEngine_FatalErrorSkipsRetry(t *testing.T) {
	var calls atomic.Int32
	g, err := NewBuilder().
		AddNode("broken", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			calls.Add(1)
			return schema.Command{}, schema.NewError(schema.ErrCodeSyntaxError, "invalid syntax")
		}).
		SetEntry("broken").
		Build()
	require.NoError(t, err)

	eng, store := newTestEngine(t, g)
	startRun(t, store, "r1")

	_, err = eng.Run(context.Background(), "r1", &schema.State{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_PerNodeRetryOverride(t *testing.T) {
	// The engine default allows three attempts; the node's own policy wins.
	var calls atomic.Int32
	g, err := NewBuilder().
		AddNode("one_shot", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			calls.Add(1)
			return schema.Command{}, errors.New("connection refused")
		}).
		WithRetry("one_shot", schema.RetryPolicy{MaxAttempts: 1}).
		SetEntry("one_shot").
		Build()
	require.NoError(t, err)

	eng, store := newTestEngine(t, g)
	startRun(t, store, "r1")

	_, err = eng.Run(context.Background(), "r1", &schema.State{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_BarrierJoinWaitsForAllBranches(t *testing.T) {
	// Fan out to a fast and a deliberately slow validator; the join must
	// observe both results, and history must follow declared order with the
	// slow branch first.
	var joinChecklist *schema.ValidationResult
	var joinCritics []schema.ValidationResult

	g, err := NewBuilder().
		AddNode("fanout", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.FanOut(schema.Patch{}, "slow_checklist", "fast_critic"), nil
		}).
		AddNode("slow_checklist", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			time.Sleep(50 * time.Millisecond)
			return schema.Goto("join", schema.Patch{
				Checklist: &schema.ValidationResult{Passed: true, ReasoningSummary: "checklist ok"},
				History:   []schema.Message{say(schema.RoleAssistant, "checklist summary")},
			}), nil
		}).
		AddNode("fast_critic", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.Goto("join", schema.Patch{
				Critics: []schema.ValidationResult{{Passed: false, ReasoningSummary: "needs work"}},
				History: []schema.Message{say(schema.RoleAssistant, "critic summary")},
			}), nil
		}).
		AddNode("join", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			joinChecklist = s.Scratch.Checklist
			joinCritics = s.Scratch.Critics
			return schema.Terminal(schema.Patch{}), nil
		}).
		SetEntry("fanout").
		Build()
	require.NoError(t, err)

	eng, store := newTestEngine(t, g)
	startRun(t, store, "r1")

	out, err := eng.Run(context.Background(), "r1", &schema.State{})
	require.NoError(t, err)

	// The join saw a fully merged state, never a partial one.
	require.NotNil(t, joinChecklist)
	assert.True(t, joinChecklist.Passed)
	require.Len(t, joinCritics, 1)
	assert.False(t, joinCritics[0].Passed)

	// Merge order is the declared fan-out order, not completion order.
	require.Len(t, out.State.Scratch.History, 2)
	assert.Equal(t, "checklist summary", out.State.Scratch.History[0].Content)
	assert.Equal(t, "critic summary", out.State.Scratch.History[1].Content)
}

func TestEngine_FatalBranchFailsSuperstep(t *testing.T) {
	joinRan := false
	g, err := NewBuilder().
		AddNode("fanout", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.FanOut(schema.Patch{}, "good", "bad"), nil
		}).
		AddNode("good", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.Goto("join", schema.Patch{History: []schema.Message{say(schema.RoleAssistant, "good")}}), nil
		}).
		AddNode("bad", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.Command{}, schema.NewError(schema.ErrCodeValidation, "fatal")
		}).
		AddNode("join", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			joinRan = true
			return schema.Terminal(schema.Patch{}), nil
		}).
		SetEntry("fanout").
		Build()
	require.NoError(t, err)

	eng, store := newTestEngine(t, g)
	startRun(t, store, "r1")

	_, err = eng.Run(context.Background(), "r1", &schema.State{})
	require.Error(t, err)
	assert.False(t, joinRan)

	// Partial branch results were not delivered: the last checkpoint still
	// holds the pre-superstep state.
	cp, cpErr := store.LatestCheckpoint(context.Background(), "r1")
	require.NoError(t, cpErr)
	require.NotNil(t, cp)
	assert.Empty(t, cp.State.Scratch.History)
}

func TestEngine_PanickingBranchFailsSuperstep(t *testing.T) {
	// A panicking branch must fail the superstep like any fatal branch. The
	// static edge must not reroute it into the join as an empty success.
	joinRan := false
	g, err := NewBuilder().
		AddNode("fanout", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.FanOut(schema.Patch{}, "good", "unstable"), nil
		}).
		AddNode("good", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.Goto("join", schema.Patch{History: []schema.Message{say(schema.RoleAssistant, "good")}}), nil
		}).
		AddNode("unstable", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			panic("nil dataframe")
		}).
		AddNode("join", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			joinRan = true
			return schema.Terminal(schema.Patch{}), nil
		}).
		AddEdge("unstable", "join").
		SetEntry("fanout").
		Build()
	require.NoError(t, err)

	eng, store := newTestEngine(t, g)
	startRun(t, store, "r1")

	_, err = eng.Run(context.Background(), "r1", &schema.State{})
	require.Error(t, err)
	assert.False(t, joinRan)

	var dErr *schema.DroverError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, schema.ErrCodeNodeFailed, dErr.Code)
	assert.Contains(t, err.Error(), "panicked")

	run, getErr := store.GetRun(context.Background(), "r1")
	require.NoError(t, getErr)
	assert.Equal(t, schema.RunStatusError, run.Status)
}

func TestEngine_PanickingNodeFailsRunWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	g, err := NewBuilder().
		AddNode("unstable", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			calls.Add(1)
			panic("index out of range")
		}).
		SetEntry("unstable").
		Build()
	require.NoError(t, err)

	eng, store := newTestEngine(t, g)
	startRun(t, store, "r1")

	_, err = eng.Run(context.Background(), "r1", &schema.State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_InterruptAndResume(t *testing.T) {
	var received string
	g, err := NewBuilder().
		AddNode("gate", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			value, err := Interrupt(ctx, "please review the results")
			if err != nil {
				return schema.Command{}, err
			}
			received = value
			return schema.Terminal(schema.Patch{History: []schema.Message{say(schema.RoleUser, value)}}), nil
		}).
		SetEntry("gate").
		Build()
	require.NoError(t, err)

	eng, store := newTestEngine(t, g)
	startRun(t, store, "r1")

	out, err := eng.Run(context.Background(), "r1", &schema.State{})
	require.NoError(t, err)
	require.True(t, out.Suspended)
	require.NotNil(t, out.Interrupt)
	assert.Equal(t, "gate", out.Interrupt.NodeID)
	assert.Equal(t, "please review the results", out.Interrupt.MessageToUser)

	run, err := store.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusWaitingForInput, run.Status)

	// The process could die here; resume works from the checkpoint alone.
	out, err = eng.Resume(context.Background(), "r1", "looks good")
	require.NoError(t, err)
	assert.False(t, out.Suspended)
	assert.Equal(t, "looks good", received)
	require.Len(t, out.State.Scratch.History, 1)
	assert.Equal(t, "looks good", out.State.Scratch.History[0].Content)

	run, err = store.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
}

func TestEngine_ResumeWithoutInterruptRejected(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.Terminal(schema.Patch{}), nil
		}).
		SetEntry("a").
		Build()
	require.NoError(t, err)

	eng, store := newTestEngine(t, g)
	startRun(t, store, "r1")

	_, err = eng.Run(context.Background(), "r1", &schema.State{})
	require.NoError(t, err)

	_, err = eng.Resume(context.Background(), "r1", "pass")
	require.Error(t, err)
	var dErr *schema.DroverError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, schema.ErrCodeConflict, dErr.Code)
}

func TestEngine_RepeatedInterruptCycles(t *testing.T) {
	// A node may interrupt again on a later superstep after being resumed.
	var visits atomic.Int32
	g, err := NewBuilder().
		AddNode("gate", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			value, err := Interrupt(ctx, "input?")
			if err != nil {
				return schema.Command{}, err
			}
			if visits.Add(1) < 2 {
				return schema.Goto("gate", schema.Patch{History: []schema.Message{say(schema.RoleUser, value)}}), nil
			}
			return schema.Terminal(schema.Patch{History: []schema.Message{say(schema.RoleUser, value)}}), nil
		}).
		SetEntry("gate").
		Build()
	require.NoError(t, err)

	eng, store := newTestEngine(t, g)
	startRun(t, store, "r1")

	out, err := eng.Run(context.Background(), "r1", &schema.State{})
	require.NoError(t, err)
	require.True(t, out.Suspended)

	out, err = eng.Resume(context.Background(), "r1", "first")
	require.NoError(t, err)
	require.True(t, out.Suspended)

	out, err = eng.Resume(context.Background(), "r1", "second")
	require.NoError(t, err)
	assert.False(t, out.Suspended)
	require.Len(t, out.State.Scratch.History, 2)
	assert.Equal(t, "first", out.State.Scratch.History[0].Content)
	assert.Equal(t, "second", out.State.Scratch.History[1].Content)
}

func TestEngine_GuardedEdges(t *testing.T) {
	g, err := NewBuilder().
		AddNode("router", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.Continue(schema.Patch{}), nil
		}).
		AddNode("stage_one", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.Terminal(schema.Patch{History: []schema.Message{say(schema.RoleSystem, "one")}}), nil
		}).
		AddNode("stage_two", func(ctx context.Context, s *schema.State) (schema.Command, error) {
			return schema.Terminal(schema.Patch{History: []schema.Message{say(schema.RoleSystem, "two")}}), nil
		}).
		AddGuardedEdge("router", "current_stage == 1", "stage_one").
		AddGuardedEdge("router", "current_stage == 2", "stage_two").
		SetEntry("router").
		Build()
	require.NoError(t, err)

	eng, store := newTestEngine(t, g)
	startRun(t, store, "r1")

	state := &schema.State{Stages: []schema.Stage{
		{Order: 1, Completed: true},
		{Order: 2},
	}}
	out, err := eng.Run(context.Background(), "r1", state)
	require.NoError(t, err)
	require.Len(t, out.State.Scratch.History, 1)
	assert.Equal(t, "two", out.State.Scratch.History[0].Content)
}

func TestBuilder_Validation(t *testing.T) {
	_, err := NewBuilder().Build()
	assert.Error(t, err)

	_, err = NewBuilder().
		AddNode("a", nil).
		AddEdge("a", "ghost").
		SetEntry("a").
		Build()
	assert.Error(t, err)

	_, err = NewBuilder().
		AddNode("a", nil).
		AddNode("a", nil).
		SetEntry("a").
		Build()
	assert.Error(t, err)
}
