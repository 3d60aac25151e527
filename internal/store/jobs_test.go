package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/intake/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestJob() *types.Job {
	return &types.Job{
		ID:           uuid.New().String(),
		Filename:     "kickoff.vtt",
		MimeType:     "text/vtt",
		FileSize:     2048,
		ContentPath:  "/data/kickoff.vtt",
		Status:       types.StatusQueued,
		CurrentStage: types.StageClassification,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestStore_JobLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	job := newTestJob()

	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	t.Run("get round-trips", func(t *testing.T) {
		got, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if got.Filename != job.Filename || got.Status != types.StatusQueued || got.CurrentStage != types.StageClassification {
			t.Errorf("GetJob() = %+v", got)
		}
		if got.RetryCount != 0 {
			t.Errorf("RetryCount = %d, want 0", got.RetryCount)
		}
	})

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		if _, err := st.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetJob(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("stage outputs persist with advancement", func(t *testing.T) {
		cls := &types.ClassificationResult{
			ContentType: types.ContentKickoffSession,
			Confidence:  0.85,
			Indicators:  []string{"agenda", "introductions"},
		}
		if err := st.SaveClassification(ctx, job.ID, cls, types.StageGeneralExtraction); err != nil {
			t.Fatalf("SaveClassification() error = %v", err)
		}

		entities := []types.CandidateEntity{
			{Type: types.EntityGoal, Content: "Reduce onboarding time", Confidence: 0.9, SourceQuote: "three days"},
		}
		review := &types.StageReview{Flagged: true, Warnings: []string{"dropped entity 2: entity missing type"}}
		if err := st.SaveRawExtraction(ctx, job.ID, entities, review, types.StageSpecializedExtraction); err != nil {
			t.Fatalf("SaveRawExtraction() error = %v", err)
		}

		got, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if got.CurrentStage != types.StageSpecializedExtraction {
			t.Errorf("CurrentStage = %v, want %v", got.CurrentStage, types.StageSpecializedExtraction)
		}
		if got.Classification == nil || got.Classification.ContentType != types.ContentKickoffSession {
			t.Errorf("Classification = %+v", got.Classification)
		}
		if len(got.RawExtraction) != 1 || got.RawExtraction[0].Type != types.EntityGoal {
			t.Errorf("RawExtraction = %+v", got.RawExtraction)
		}
		if got.RawReview == nil || !got.RawReview.Flagged || len(got.RawReview.Warnings) != 1 {
			t.Errorf("RawReview = %+v, want the gate record round-tripped", got.RawReview)
		}
	})

	t.Run("complete sets terminal state", func(t *testing.T) {
		if err := st.CompleteJob(ctx, job.ID, &types.PopulationResult{Items: 3, Approved: 2, Pending: 1}); err != nil {
			t.Fatalf("CompleteJob() error = %v", err)
		}
		got, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if got.Status != types.StatusComplete {
			t.Errorf("Status = %v, want complete", got.Status)
		}
		if got.CompletedAt == nil {
			t.Error("CompletedAt not set")
		}
		if got.Population == nil || got.Population.Items != 3 {
			t.Errorf("Population = %+v", got.Population)
		}
	})
}

func TestStore_ListJobs(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := newTestJob()
		job.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := st.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}
	failed := newTestJob()
	failed.CreatedAt = time.Now().UTC().Add(time.Hour)
	if err := st.CreateJob(ctx, failed); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := st.FailJob(ctx, failed.ID, "boom"); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}

	t.Run("newest first", func(t *testing.T) {
		jobs, err := st.ListJobs(ctx, JobFilter{})
		if err != nil {
			t.Fatalf("ListJobs() error = %v", err)
		}
		if len(jobs) != 4 {
			t.Fatalf("got %d jobs, want 4", len(jobs))
		}
		if jobs[0].ID != failed.ID {
			t.Errorf("first job = %s, want newest %s", jobs[0].ID, failed.ID)
		}
	})

	t.Run("status filter", func(t *testing.T) {
		jobs, err := st.ListJobs(ctx, JobFilter{Status: types.StatusFailed})
		if err != nil {
			t.Fatalf("ListJobs() error = %v", err)
		}
		if len(jobs) != 1 || jobs[0].ID != failed.ID {
			t.Errorf("ListJobs(failed) = %v", jobs)
		}
		if jobs[0].Error != "boom" {
			t.Errorf("Error = %q, want boom", jobs[0].Error)
		}
	})

	t.Run("limit", func(t *testing.T) {
		jobs, err := st.ListJobs(ctx, JobFilter{Limit: 2})
		if err != nil {
			t.Fatalf("ListJobs() error = %v", err)
		}
		if len(jobs) != 2 {
			t.Errorf("got %d jobs, want 2", len(jobs))
		}
	})

	t.Run("resumable excludes terminal", func(t *testing.T) {
		jobs, err := st.ListResumable(ctx)
		if err != nil {
			t.Fatalf("ListResumable() error = %v", err)
		}
		if len(jobs) != 3 {
			t.Errorf("got %d resumable jobs, want 3", len(jobs))
		}
		for _, j := range jobs {
			if j.Terminal() {
				t.Errorf("resumable job %s has terminal status %s", j.ID, j.Status)
			}
		}
	})
}

func TestStore_IncrementRetry(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	for want := 1; want <= types.RetryCeiling; want++ {
		count, err := st.IncrementRetry(ctx, job.ID, types.RetryCeiling)
		if err != nil {
			t.Fatalf("IncrementRetry() #%d error = %v", want, err)
		}
		if count != want {
			t.Errorf("retry count = %d, want %d", count, want)
		}
	}

	t.Run("ceiling refuses further retries", func(t *testing.T) {
		count, err := st.IncrementRetry(ctx, job.ID, types.RetryCeiling)
		if !errors.Is(err, ErrRetryCeiling) {
			t.Fatalf("error = %v, want ErrRetryCeiling", err)
		}
		if count != types.RetryCeiling {
			t.Errorf("count = %d, want %d", count, types.RetryCeiling)
		}
	})

	t.Run("missing job returns ErrNotFound", func(t *testing.T) {
		if _, err := st.IncrementRetry(ctx, "missing", types.RetryCeiling); !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_ResetForRetry(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seed := func(t *testing.T) *types.Job {
		t.Helper()
		job := newTestJob()
		if err := st.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
		if err := st.SaveClassification(ctx, job.ID, &types.ClassificationResult{ContentType: types.ContentKickoffSession, Confidence: 0.9}, types.StageGeneralExtraction); err != nil {
			t.Fatalf("SaveClassification() error = %v", err)
		}
		if err := st.SaveRawExtraction(ctx, job.ID, []types.CandidateEntity{{Type: types.EntityGoal, Content: "g", Confidence: 0.9}}, &types.StageReview{Flagged: true}, types.StageSpecializedExtraction); err != nil {
			t.Fatalf("SaveRawExtraction() error = %v", err)
		}
		if err := st.SaveSpecialized(ctx, job.ID, []types.CandidateEntity{{Type: types.EntityKPITarget, Content: "k", Confidence: 0.8}}, &types.StageReview{Warnings: []string{"entity 1 (KPI_TARGET): bad payload"}}, types.StageTabPopulation); err != nil {
			t.Fatalf("SaveSpecialized() error = %v", err)
		}
		if err := st.FailJob(ctx, job.ID, "population exploded"); err != nil {
			t.Fatalf("FailJob() error = %v", err)
		}
		return job
	}

	t.Run("rewind to specialized keeps earlier outputs", func(t *testing.T) {
		job := seed(t)
		if err := st.ResetForRetry(ctx, job.ID, types.StageSpecializedExtraction); err != nil {
			t.Fatalf("ResetForRetry() error = %v", err)
		}
		got, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if got.Status != types.StatusQueued || got.CurrentStage != types.StageSpecializedExtraction {
			t.Errorf("job = %s/%s, want queued/specialized_extraction", got.Status, got.CurrentStage)
		}
		if got.Error != "" {
			t.Errorf("Error = %q, want cleared", got.Error)
		}
		if got.Classification == nil || got.RawExtraction == nil {
			t.Error("earlier stage outputs should survive the rewind")
		}
		if got.RawReview == nil || !got.RawReview.Flagged {
			t.Error("earlier stage review should survive the rewind")
		}
		if got.Specialized != nil || got.SpecializedReview != nil {
			t.Error("specialized output and review should be discarded at their own stage")
		}
	})

	t.Run("rewind to classification clears everything", func(t *testing.T) {
		job := seed(t)
		if err := st.ResetForRetry(ctx, job.ID, types.StageClassification); err != nil {
			t.Fatalf("ResetForRetry() error = %v", err)
		}
		got, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if got.Classification != nil || got.RawExtraction != nil || got.Specialized != nil {
			t.Errorf("all stage outputs should be cleared, got %+v", got)
		}
		if got.RawReview != nil || got.SpecializedReview != nil {
			t.Error("stage reviews should be cleared with their outputs")
		}
	})

	t.Run("unknown stage rejected", func(t *testing.T) {
		job := seed(t)
		if err := st.ResetForRetry(ctx, job.ID, "bogus"); err == nil {
			t.Error("expected error for unknown stage")
		}
	})
}

func TestStore_RetryFromStage(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seed := func(t *testing.T) *types.Job {
		t.Helper()
		job := newTestJob()
		if err := st.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
		if err := st.SaveClassification(ctx, job.ID, &types.ClassificationResult{ContentType: types.ContentKickoffSession, Confidence: 0.9}, types.StageGeneralExtraction); err != nil {
			t.Fatalf("SaveClassification() error = %v", err)
		}
		if err := st.FailJob(ctx, job.ID, "boom"); err != nil {
			t.Fatalf("FailJob() error = %v", err)
		}
		return job
	}

	t.Run("increments and rewinds together", func(t *testing.T) {
		job := seed(t)
		count, err := st.RetryFromStage(ctx, job.ID, types.StageGeneralExtraction, types.RetryCeiling)
		if err != nil {
			t.Fatalf("RetryFromStage() error = %v", err)
		}
		if count != 1 {
			t.Errorf("count = %d, want 1", count)
		}
		got, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if got.Status != types.StatusQueued || got.Error != "" || got.RetryCount != 1 {
			t.Errorf("job = %s/%q/retries=%d, want queued, cleared, 1", got.Status, got.Error, got.RetryCount)
		}
	})

	t.Run("invalid stage does not burn the budget", func(t *testing.T) {
		job := seed(t)
		if _, err := st.RetryFromStage(ctx, job.ID, "bogus", types.RetryCeiling); err == nil {
			t.Fatal("expected error for unknown stage")
		}
		got, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if got.RetryCount != 0 {
			t.Errorf("RetryCount = %d, want 0 after refused rewind", got.RetryCount)
		}
		if got.Status != types.StatusFailed || got.Error != "boom" {
			t.Errorf("job = %s/%q, want untouched failed job", got.Status, got.Error)
		}
	})

	t.Run("ceiling leaves the job untouched", func(t *testing.T) {
		job := seed(t)
		for i := 0; i < types.RetryCeiling; i++ {
			if _, err := st.RetryFromStage(ctx, job.ID, types.StageGeneralExtraction, types.RetryCeiling); err != nil {
				t.Fatalf("RetryFromStage() #%d error = %v", i+1, err)
			}
			if err := st.FailJob(ctx, job.ID, "boom"); err != nil {
				t.Fatalf("FailJob() error = %v", err)
			}
		}
		count, err := st.RetryFromStage(ctx, job.ID, types.StageGeneralExtraction, types.RetryCeiling)
		if !errors.Is(err, ErrRetryCeiling) {
			t.Fatalf("error = %v, want ErrRetryCeiling", err)
		}
		if count != types.RetryCeiling {
			t.Errorf("count = %d, want %d", count, types.RetryCeiling)
		}
		got, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if got.Status != types.StatusFailed || got.Error != "boom" {
			t.Errorf("job = %s/%q, want still failed after refusal", got.Status, got.Error)
		}
	})

	t.Run("missing job returns ErrNotFound", func(t *testing.T) {
		if _, err := st.RetryFromStage(ctx, "missing", types.StageClassification, types.RetryCeiling); !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_DeleteJob(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	items := []types.Item{{
		ID: uuid.New().String(), JobID: job.ID, Type: types.EntityGoal,
		Section: types.SectionBusiness, Content: "g", Confidence: 0.9, Status: types.ItemPending,
	}}
	if err := st.ReplaceItems(ctx, job.ID, items); err != nil {
		t.Fatalf("ReplaceItems() error = %v", err)
	}

	if err := st.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("DeleteJob() error = %v", err)
	}
	if _, err := st.GetJob(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob() after delete error = %v, want ErrNotFound", err)
	}

	// Items cascade with the job.
	left, err := st.ListItems(ctx, ItemFilter{JobID: job.ID})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(left) != 0 {
		t.Errorf("%d items survived job deletion", len(left))
	}

	if err := st.DeleteJob(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteJob() error = %v, want ErrNotFound", err)
	}
}
