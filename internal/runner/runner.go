// Package runner schedules job executions: one goroutine per job, stages
// sequential within it, with a semaphore bounding how many jobs run at
// once. Jobs share no mutable state beyond the store.
package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackzampolin/intake/internal/pipeline"
	"github.com/jackzampolin/intake/internal/types"
)

// JobLister is the store surface used for startup resume.
type JobLister interface {
	ListResumable(ctx context.Context) ([]*types.Job, error)
}

// Runner executes jobs through the orchestrator.
type Runner struct {
	orch   *pipeline.Orchestrator
	jobs   JobLister
	logger *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	running map[string]struct{}
}

// New creates a runner allowing up to maxJobs concurrent jobs.
func New(orch *pipeline.Orchestrator, jobs JobLister, maxJobs int, logger *slog.Logger) *Runner {
	if maxJobs <= 0 {
		maxJobs = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		orch:    orch,
		jobs:    jobs,
		logger:  logger,
		sem:     make(chan struct{}, maxJobs),
		running: make(map[string]struct{}),
	}
}

// Submit schedules a job run and returns immediately. A job already running
// is not submitted twice. The run itself uses a background context: once
// started, a job finishes or fails on its own terms.
func (r *Runner) Submit(jobID string) {
	r.mu.Lock()
	if _, ok := r.running[jobID]; ok {
		r.mu.Unlock()
		r.logger.Warn("job already running, ignoring submit", "job_id", jobID)
		return
	}
	r.running[jobID] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, jobID)
			r.mu.Unlock()
		}()

		r.sem <- struct{}{}
		defer func() { <-r.sem }()

		if err := r.orch.Start(context.Background(), jobID); err != nil {
			r.logger.Error("job run ended in failure", "job_id", jobID, "error", err)
		}
	}()
}

// Retry accepts a retry (subject to the ceiling) and schedules the re-run.
// The acknowledgment returns immediately; callers poll or subscribe for the
// outcome.
func (r *Runner) Retry(ctx context.Context, jobID string, fromStage types.Stage) (*pipeline.RetryAck, error) {
	ack, err := r.orch.Retry(ctx, jobID, fromStage)
	if err != nil {
		return nil, err
	}
	r.Submit(jobID)
	return ack, nil
}

// Resume re-submits jobs left queued or processing by a previous process.
// Stage outputs are persisted before stage advancement, so a resumed job
// picks up at the stage it was in when the process died.
func (r *Runner) Resume(ctx context.Context) error {
	jobs, err := r.jobs.ListResumable(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		r.logger.Info("resuming job", "job_id", job.ID, "stage", job.CurrentStage, "status", job.Status)
		r.Submit(job.ID)
	}
	return nil
}

// Wait blocks until in-flight jobs finish or the context expires.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
