// Package progress lets observers watch a job live. A subscription emits
// an immediate snapshot, then re-checks the job on a fixed interval and
// emits only on change; reaching a terminal status emits one exhaustive
// final event and closes the stream.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackzampolin/intake/internal/store"
	"github.com/jackzampolin/intake/internal/types"
)

// DefaultInterval is how often a subscription re-checks the job.
const DefaultInterval = time.Second

// Event is the wire shape of one progress update.
type Event struct {
	JobID          string                      `json:"jobId"`
	Status         types.Status                `json:"status"`
	Stage          types.Stage                 `json:"stage"`
	Progress       *types.StageProgress        `json:"progress,omitempty"`
	Classification *types.ClassificationResult `json:"classification,omitempty"`
	Population     *types.PopulationResult     `json:"population,omitempty"`
	Error          string                      `json:"error,omitempty"`
	CompletedAt    *time.Time                  `json:"completedAt,omitempty"`
}

// JobReader is the read surface the publisher polls.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*types.Job, error)
}

// Publisher streams job progress to subscribers.
type Publisher struct {
	store    JobReader
	interval time.Duration
	logger   *slog.Logger
}

// NewPublisher creates a publisher polling at DefaultInterval.
func NewPublisher(st JobReader, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: st, interval: DefaultInterval, logger: logger}
}

// SetInterval overrides the poll interval (tests).
func (p *Publisher) SetInterval(d time.Duration) {
	if d > 0 {
		p.interval = d
	}
}

// Snapshot returns the job's current progress as a single event.
func (p *Publisher) Snapshot(ctx context.Context, jobID string) (*Event, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ev := eventFrom(job)
	return &ev, nil
}

// Subscribe starts a progress stream for the job. The returned channel
// closes when the job reaches a terminal status, disappears, or the context
// is cancelled; cancellation releases the polling ticker immediately. A job
// already terminal at subscribe time yields exactly the final event.
func (p *Publisher) Subscribe(ctx context.Context, jobID string) (<-chan Event, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, 8)
	go p.run(ctx, jobID, job, ch)
	return ch, nil
}

func (p *Publisher) run(ctx context.Context, jobID string, job *types.Job, ch chan<- Event) {
	defer close(ch)

	last := eventFrom(job)
	if !send(ctx, ch, last) {
		return
	}
	if job.Terminal() {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err := p.store.GetJob(ctx, jobID)
		if errors.Is(err, store.ErrNotFound) {
			// The job vanished mid-stream. Terminal error event, then done.
			send(ctx, ch, Event{JobID: jobID, Status: types.StatusFailed, Error: "job no longer exists"})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("progress poll failed", "job_id", jobID, "error", err)
			continue
		}

		ev := eventFrom(job)
		if !changed(last, ev) {
			continue
		}
		if !send(ctx, ch, ev) {
			return
		}
		last = ev

		if job.Terminal() {
			return
		}
	}
}

func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// changed reports whether an event is worth emitting: a status change or a
// stage-progress change. Identical re-reads emit nothing.
func changed(prev, next Event) bool {
	if prev.Status != next.Status || prev.Stage != next.Stage {
		return true
	}
	a, b := prev.Progress, next.Progress
	switch {
	case a == nil && b == nil:
		return false
	case a == nil || b == nil:
		return true
	}
	return a.Step != b.Step || a.Detail != b.Detail ||
		a.Completed != b.Completed || a.Total != b.Total ||
		!a.UpdatedAt.Equal(b.UpdatedAt)
}

// eventFrom builds the event for a job's current state. Stage outputs
// appear only once their producing stage has persisted them, so the final
// event of a completed job is exhaustive.
func eventFrom(job *types.Job) Event {
	return Event{
		JobID:          job.ID,
		Status:         job.Status,
		Stage:          job.CurrentStage,
		Progress:       job.Progress,
		Classification: job.Classification,
		Population:     job.Population,
		Error:          job.Error,
		CompletedAt:    job.CompletedAt,
	}
}
