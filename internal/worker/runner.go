// Package worker runs the periodic maintenance jobs of the chat core.
package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Runner ticks every job on its own goroutine. A panicking iteration is logged and the job
// keeps its schedule.
type Runner struct {
	jobs   []Job
	logger *zap.Logger
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewRunner creates a runner for the given jobs.
func NewRunner(logger *zap.Logger, jobs ...Job) *Runner {
	return &Runner{jobs: jobs, logger: logger.Named("worker")}
}

// Start launches every job with a positive interval.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	for _, job := range r.jobs {
		if job.Interval <= 0 || job.Run == nil {
			r.logger.Warn("job disabled", zap.String("job", job.Name))
			continue
		}
		r.wg.Add(1)
		go r.loop(ctx, job)
	}
}

// Stop cancels every job and waits for running iterations to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("job panicked",
				zap.String("job", job.Name),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	job.Run(ctx)
}
