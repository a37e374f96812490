package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryHub_PublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	err = hub.Publish(ctx, StreamEvent{RunID: "r1", EventType: "progress"})
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, "r1", ev.RunID)
		assert.Equal(t, "progress", ev.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestMemoryHub_RunFilter(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{RunID: "r1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "r2", EventType: "progress"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "r1", EventType: "final_report"}))

	select {
	case ev := <-ch:
		assert.Equal(t, "r1", ev.RunID)
		assert.Equal(t, "final_report", ev.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected filtered event")
	}
	assert.Empty(t, ch)
}

func TestMemoryHub_EventTypeFilter(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{EventTypes: []string{"run_suspended"}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "r1", EventType: "node_started"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "r1", EventType: "run_suspended"}))

	select {
	case ev := <-ch:
		assert.Equal(t, "run_suspended", ev.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected filtered event")
	}
}

func TestMemoryHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	_, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	// Publishing far beyond the channel buffer must not block; the excess
	// is counted as dropped.
	for i := 0; i < subscriptionBuffer*2; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "r1", EventType: "progress"}))
	}
	assert.Equal(t, int64(subscriptionBuffer), hub.Dropped())
}

func TestMemoryHub_CancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := hub.Publish(ctx, StreamEvent{RunID: "r1"})
	assert.Error(t, err)

	_, _, err = hub.Subscribe(ctx, EventFilter{})
	assert.Error(t, err)
}
