// Package janitor is the background maintenance loop: it prunes stale
// terminal runs from the checkpoint store on a cron schedule and, at boot,
// marks runs orphaned by a crash (still "running" with no process driving
// them) as failed.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/pkg/schema"
)

// Options tune the janitor.
type Options struct {
	// Schedule is a five-field cron expression. Defaults to hourly.
	Schedule string
	// Retention is how long terminal runs are kept. Defaults to 7 days.
	Retention time.Duration
	// Interval is how often the loop wakes to check the schedule.
	Interval time.Duration
}

// Janitor owns the maintenance loop.
type Janitor struct {
	store     checkpoint.Store
	logger    *slog.Logger
	schedule  cron.Schedule
	retention time.Duration
	interval  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	nextRun time.Time

	sweeping sync.Mutex // a sweep never overlaps itself
}

// New creates a Janitor. The schedule is validated up front.
func New(store checkpoint.Store, logger *slog.Logger, opts Options) (*Janitor, error) {
	if opts.Schedule == "" {
		opts.Schedule = "0 * * * *"
	}
	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(opts.Schedule)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "janitor schedule %q: %s", opts.Schedule, err.Error()).WithCause(err)
	}

	return &Janitor{
		store:     store,
		logger:    logger,
		schedule:  schedule,
		retention: opts.Retention,
		interval:  opts.Interval,
	}, nil
}

// Start recovers orphaned runs, then launches the background loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.done != nil {
		j.mu.Unlock()
		return fmt.Errorf("janitor already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.nextRun = j.schedule.Next(time.Now().UTC())
	j.mu.Unlock()

	if err := j.RecoverOrphans(ctx); err != nil {
		j.logger.Error("orphan recovery failed", slog.String("error", err.Error()))
	}

	go j.loop(loopCtx)
	j.logger.Info("janitor started", slog.Time("next_sweep", j.nextRun))
	return nil
}

// Stop halts the loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (j *Janitor) loop(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			j.mu.Lock()
			due := !now.UTC().Before(j.nextRun)
			if due {
				j.nextRun = j.schedule.Next(now.UTC())
			}
			j.mu.Unlock()
			if due {
				if err := j.Sweep(ctx); err != nil {
					j.logger.Error("sweep failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

// RecoverOrphans marks runs left in an active status by a previous process
// as failed. Suspended runs are left alone: their checkpoints make them
// resumable across restarts.
func (j *Janitor) RecoverOrphans(ctx context.Context) error {
	var recovered int
	for _, status := range []schema.RunStatus{schema.RunStatusRunning, schema.RunStatusPending} {
		runs, err := j.store.ListRuns(ctx, checkpoint.RunFilter{Status: status})
		if err != nil {
			return err
		}
		for _, run := range runs {
			if err := j.store.UpdateRunStatus(ctx, run.ID, schema.RunStatusError, "orphaned by process restart"); err != nil {
				j.logger.Error("failed to mark orphaned run",
					slog.String("run_id", run.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			recovered++
		}
	}
	if recovered > 0 {
		j.logger.Info("recovered orphaned runs", slog.Int("count", recovered))
	}
	return nil
}

// Sweep deletes terminal runs older than the retention window, with their
// checkpoints and events.
func (j *Janitor) Sweep(ctx context.Context) error {
	j.sweeping.Lock()
	defer j.sweeping.Unlock()

	cutoff := time.Now().UTC().Add(-j.retention)
	var pruned int
	for _, status := range []schema.RunStatus{
		schema.RunStatusCompleted,
		schema.RunStatusCancelled,
		schema.RunStatusError,
	} {
		runs, err := j.store.ListRuns(ctx, checkpoint.RunFilter{Status: status})
		if err != nil {
			return err
		}
		for _, run := range runs {
			if run.UpdatedAt.After(cutoff) {
				continue
			}
			if err := j.store.DeleteRun(ctx, run.ID); err != nil {
				j.logger.Error("failed to prune run",
					slog.String("run_id", run.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			pruned++
		}
	}
	if pruned > 0 {
		j.logger.Info("pruned stale runs", slog.Int("count", pruned))
	}
	return nil
}
