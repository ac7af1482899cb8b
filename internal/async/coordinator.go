// Package async runs indexing jobs on a background worker. At most one
// job runs at a time; the foreground reads progress through atomically
// published immutable snapshots and cancels cooperatively.
package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	liberrors "github.com/libris-dev/libris/internal/errors"
	"github.com/libris-dev/libris/internal/index"
)

// Coordinator owns the single background indexing job.
type Coordinator struct {
	pipeline *index.Pipeline
	logger   *slog.Logger

	// mu guards job admission and the cancel/done fields. The worker
	// itself never takes it; status flows through the snapshot pointer.
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	snapshot atomic.Pointer[JobSnapshot]
}

// NewCoordinator creates a coordinator over the given pipeline.
func NewCoordinator(pipeline *index.Pipeline, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{pipeline: pipeline, logger: logger}
}

// Start launches a background job over paths. Fails with the
// job-already-running error while a job is active; the active job is
// unaffected by the rejected call.
func (c *Coordinator) Start(ctx context.Context, paths []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return "", liberrors.ErrJobAlreadyRunning
	}

	jobID := uuid.NewString()
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	c.publish(&JobSnapshot{
		ID:        jobID,
		Status:    StatusPending,
		Total:     len(paths),
		StartedAt: time.Now(),
	})

	c.logger.Info("background_job_started",
		slog.String("job_id", jobID),
		slog.Int("sources", len(paths)))

	go c.run(jobCtx, jobID, paths)
	return jobID, nil
}

// run is the worker goroutine.
func (c *Coordinator) run(ctx context.Context, jobID string, paths []string) {
	defer func() {
		// A panicking worker must not leave the coordinator wedged: the
		// job terminates as Failed and admission reopens.
		if r := recover(); r != nil {
			final := *c.snapshot.Load()
			final.Status = StatusFailed
			final.Error = fmt.Sprintf("%v", r)
			final.FinishedAt = time.Now()
			c.publish(&final)
			c.logger.Error("background_job_panicked",
				slog.String("job_id", jobID),
				slog.String("error", final.Error))
		}
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		close(c.done)
		c.mu.Unlock()
	}()

	base := *c.snapshot.Load()
	base.Status = StatusRunning
	c.publish(&base)

	job := c.pipeline.IndexMany(ctx, paths, func(done, total int, outcome index.BookOutcome) {
		next := *c.snapshot.Load()
		next.Done = done
		next.LastPath = outcome.Path
		next.LastTitle = outcome.Title
		switch {
		case outcome.Err != nil:
			next.Failed++
		case outcome.Skipped:
			next.Skipped++
		default:
			next.Indexed++
		}
		c.publish(&next)
	})

	final := *c.snapshot.Load()
	final.FinishedAt = time.Now()
	if job.Cancelled {
		final.Status = StatusCancelled
	} else {
		final.Status = StatusCompleted
	}
	c.publish(&final)

	c.logger.Info("background_job_finished",
		slog.String("job_id", jobID),
		slog.String("status", string(final.Status)),
		slog.Int("indexed", job.Indexed),
		slog.Int("skipped", job.Skipped),
		slog.Int("failed", job.Failed))
}

// publish swaps in a new immutable snapshot.
func (c *Coordinator) publish(s *JobSnapshot) {
	c.snapshot.Store(s)
}

// Status returns the latest snapshot without blocking on the worker.
// Nil until the first job starts.
func (c *Coordinator) Status() *JobSnapshot {
	return c.snapshot.Load()
}

// Running reports whether a job is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Cancel requests cooperative cancellation of the active job. The
// worker stops at the next book boundary; the in-flight book finishes
// and commits. No-op when no job is running.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.logger.Info("background_job_cancel_requested")
		c.cancel()
	}
}

// Wait blocks until the active job reaches a terminal state, or ctx
// expires. Returns immediately when no job is running.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	running := c.running
	c.mu.Unlock()

	if !running || done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown is the graceful-interruption path: cancel the active job and
// wait (bounded by ctx) for the worker to finish the in-flight book,
// commit it, and release the lock.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.Cancel()
	return c.Wait(ctx)
}
