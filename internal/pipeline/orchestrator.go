// Package pipeline drives a job through its four ordered stages. Each job
// runs as one sequential task; stage N's output is persisted before stage
// N+1 begins, so a failed run can resume from where it stopped without
// re-running earlier stages.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/intake/internal/evaluator"
	"github.com/jackzampolin/intake/internal/gateway"
	"github.com/jackzampolin/intake/internal/materialize"
	"github.com/jackzampolin/intake/internal/types"
)

// Store is the persistence surface the orchestrator mutates jobs through.
// Every method is a single atomic transition.
type Store interface {
	GetJob(ctx context.Context, id string) (*types.Job, error)
	SetStatus(ctx context.Context, id string, status types.Status) error
	SetProgress(ctx context.Context, id string, p *types.StageProgress) error
	SaveClassification(ctx context.Context, id string, result *types.ClassificationResult, next types.Stage) error
	SaveRawExtraction(ctx context.Context, id string, entities []types.CandidateEntity, review *types.StageReview, next types.Stage) error
	SaveSpecialized(ctx context.Context, id string, entities []types.CandidateEntity, review *types.StageReview, next types.Stage) error
	CompleteJob(ctx context.Context, id string, result *types.PopulationResult) error
	FailJob(ctx context.Context, id string, msg string) error
	RetryFromStage(ctx context.Context, id string, from types.Stage, ceiling int) (int, error)
}

// BlobStore fetches a job's source content.
type BlobStore interface {
	Get(path string) ([]byte, error)
}

// Orchestrator executes jobs.
type Orchestrator struct {
	store        Store
	blobs        BlobStore
	client       gateway.Client
	gate         *evaluator.Gate
	materializer *materialize.Materializer
	logger       *slog.Logger
}

// New creates an orchestrator.
func New(store Store, blobs BlobStore, client gateway.Client, gate *evaluator.Gate, mat *materialize.Materializer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:        store,
		blobs:        blobs,
		client:       client,
		gate:         gate,
		materializer: mat,
		logger:       logger,
	}
}

// Start runs the job from its current stage to a terminal state. Once
// started the run is not cancellable from outside; it finishes, fails, or
// the process dies (and a restart resumes from the persisted stage).
func (o *Orchestrator) Start(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		o.logger.Warn("job already terminal, not starting", "job_id", jobID, "status", job.Status)
		return nil
	}

	if err := o.store.SetStatus(ctx, jobID, types.StatusProcessing); err != nil {
		return err
	}
	job.Status = types.StatusProcessing
	o.logger.Info("job started", "job_id", jobID, "stage", job.CurrentStage, "attempt", job.RetryCount)

	content, err := o.blobs.Get(job.ContentPath)
	if err != nil {
		return o.fail(ctx, job, fmt.Errorf("loading source content: %w", err))
	}

	stages, err := types.StagesFrom(job.CurrentStage)
	if err != nil {
		return o.fail(ctx, job, err)
	}

	// A review flag recorded by an earlier stage biases materialization
	// toward PENDING for the rest of the run. Rebuilt from the persisted
	// stage reviews so a retry from a later stage keeps the bias.
	reviewFlagged := job.ReviewFlagged()

	for _, stage := range stages {
		var review bool
		var stageErr error
		switch stage {
		case types.StageClassification:
			review, stageErr = o.runClassification(ctx, job, string(content))
		case types.StageGeneralExtraction:
			review, stageErr = o.runGeneralExtraction(ctx, job, string(content))
		case types.StageSpecializedExtraction:
			review, stageErr = o.runSpecializedExtraction(ctx, job, string(content))
		case types.StageTabPopulation:
			stageErr = o.runPopulation(ctx, job, reviewFlagged)
		}
		if stageErr != nil {
			return o.fail(ctx, job, fmt.Errorf("%s: %w", stage, stageErr))
		}
		if review {
			reviewFlagged = true
		}
	}

	o.logger.Info("job complete", "job_id", jobID,
		"items", job.Population.Items, "warnings", len(job.Population.Warnings))
	return nil
}

// RetryAck is the immediate acknowledgment for an accepted retry. The run
// itself happens asynchronously.
type RetryAck struct {
	JobID   string      `json:"job_id"`
	Attempt int         `json:"attempt"`
	Ceiling int         `json:"ceiling"`
	Stage   types.Stage `json:"stage"`
}

// Retry consumes one retry attempt and rewinds the job so it can run again
// from the given stage (default: the stage it failed in). Increment and
// rewind happen in one transaction, so a refused rewind never burns an
// attempt; past the ceiling the retry is refused with store.ErrRetryCeiling.
// The caller schedules the actual re-run.
func (o *Orchestrator) Retry(ctx context.Context, jobID string, fromStage types.Stage) (*RetryAck, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.StatusFailed {
		return nil, fmt.Errorf("job %s is %s, only failed jobs can be retried", jobID, job.Status)
	}

	from := fromStage
	if from == "" {
		from = job.CurrentStage
	}
	if !types.ValidStage(from) {
		return nil, fmt.Errorf("unknown stage: %s", from)
	}
	if types.StageIndex(from) > types.StageIndex(job.CurrentStage) {
		return nil, fmt.Errorf("cannot retry from %s: job only reached %s", from, job.CurrentStage)
	}

	attempt, err := o.store.RetryFromStage(ctx, jobID, from, types.RetryCeiling)
	if err != nil {
		return nil, err
	}

	o.logger.Info("job retry accepted", "job_id", jobID, "from", from,
		"attempt", attempt, "ceiling", types.RetryCeiling)
	return &RetryAck{JobID: jobID, Attempt: attempt, Ceiling: types.RetryCeiling, Stage: from}, nil
}

// fail moves the job to FAILED with a stage-scoped error, preserving every
// already-persisted stage output.
func (o *Orchestrator) fail(ctx context.Context, job *types.Job, cause error) error {
	o.logger.Error("job failed", "job_id", job.ID, "stage", job.CurrentStage,
		"error_kind", gateway.ErrorKind(cause), "error", cause)
	if err := o.store.FailJob(ctx, job.ID, cause.Error()); err != nil {
		o.logger.Error("failed to persist job failure", "job_id", job.ID, "error", err)
	}
	return cause
}

// progress records a sub-step snapshot. Progress writes are best-effort:
// losing one never fails a stage.
func (o *Orchestrator) progress(ctx context.Context, job *types.Job, stage types.Stage, step, detail string, completed, total int) {
	p := &types.StageProgress{
		Stage:     stage,
		Step:      step,
		Detail:    detail,
		Completed: completed,
		Total:     total,
		UpdatedAt: time.Now().UTC(),
	}
	if err := o.store.SetProgress(ctx, job.ID, p); err != nil {
		o.logger.Warn("failed to record progress", "job_id", job.ID, "step", step, "error", err)
	}
	job.Progress = p
}
