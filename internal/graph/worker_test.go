package graph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	var active, peak atomic.Int32
	done := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		err := pool.Submit(context.Background(), func(ctx context.Context) error {
			cur := active.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			done <- struct{}{}
			return nil
		})
		require.NoError(t, err)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int64(8), pool.Completed())
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	pool := NewWorkerPool(1)

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		panic("boom")
	}))
	pool.Shutdown()

	assert.Equal(t, int64(1), pool.Failed())
}

func TestWorkerPool_CountsFailures(t *testing.T) {
	pool := NewWorkerPool(1)

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		return errors.New("nope")
	}))
	pool.Shutdown()

	assert.Equal(t, int64(1), pool.Failed())
	assert.Equal(t, int64(0), pool.Completed())
}
