package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/intake/internal/types"
)

// CreateJob inserts a new queued job.
func (s *Store) CreateJob(ctx context.Context, job *types.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, filename, mime_type, file_size, content_path, status, current_stage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Filename, job.MimeType, job.FileSize, job.ContentPath,
		string(job.Status), string(job.CurrentStage), job.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, mime_type, file_size, content_path, status, current_stage,
		        progress, classification, raw_extraction, raw_review, specialized,
		        specialized_review, population, error, retry_count, created_at, completed_at
		 FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Status types.Status
	Limit  int
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*types.Job, error) {
	query := `SELECT id, filename, mime_type, file_size, content_path, status, current_stage,
	                 progress, classification, raw_extraction, raw_review, specialized,
	                 specialized_review, population, error, retry_count, created_at, completed_at
	          FROM jobs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListResumable returns jobs that were in flight or waiting when the server
// last stopped.
func (s *Store) ListResumable(ctx context.Context) ([]*types.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, mime_type, file_size, content_path, status, current_stage,
		        progress, classification, raw_extraction, raw_review, specialized,
		        specialized_review, population, error, retry_count, created_at, completed_at
		 FROM jobs WHERE status IN ('queued', 'processing') ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing resumable jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SetStatus updates only the job status.
func (s *Store) SetStatus(ctx context.Context, id string, status types.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating status for job %s: %w", id, err)
	}
	return checkAffected(res, "job", id)
}

// SetProgress updates the stage progress snapshot.
func (s *Store) SetProgress(ctx context.Context, id string, p *types.StageProgress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress = ? WHERE id = ?`, string(raw), id)
	if err != nil {
		return fmt.Errorf("updating progress for job %s: %w", id, err)
	}
	return checkAffected(res, "job", id)
}

// SaveClassification persists the stage-1 output and advances the job to the
// next stage in one statement.
func (s *Store) SaveClassification(ctx context.Context, id string, result *types.ClassificationResult, next types.Stage) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling classification: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET classification = ?, current_stage = ? WHERE id = ?`,
		string(raw), string(next), id)
	if err != nil {
		return fmt.Errorf("saving classification for job %s: %w", id, err)
	}
	return checkAffected(res, "job", id)
}

// SaveRawExtraction persists the stage-2 entities with their gate review
// record and advances the stage. The review travels with the entities so a
// later retry sees the same gate outcome the original run did.
func (s *Store) SaveRawExtraction(ctx context.Context, id string, entities []types.CandidateEntity, review *types.StageReview, next types.Stage) error {
	raw, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("marshaling raw extraction: %w", err)
	}
	reviewRaw, err := marshalReview(review)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET raw_extraction = ?, raw_review = ?, current_stage = ? WHERE id = ?`,
		string(raw), reviewRaw, string(next), id)
	if err != nil {
		return fmt.Errorf("saving raw extraction for job %s: %w", id, err)
	}
	return checkAffected(res, "job", id)
}

// SaveSpecialized persists the stage-3 entities with their gate review
// record and advances the stage.
func (s *Store) SaveSpecialized(ctx context.Context, id string, entities []types.CandidateEntity, review *types.StageReview, next types.Stage) error {
	raw, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("marshaling specialized entities: %w", err)
	}
	reviewRaw, err := marshalReview(review)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET specialized = ?, specialized_review = ?, current_stage = ? WHERE id = ?`,
		string(raw), reviewRaw, string(next), id)
	if err != nil {
		return fmt.Errorf("saving specialized entities for job %s: %w", id, err)
	}
	return checkAffected(res, "job", id)
}

// marshalReview encodes a stage review for storage, NULL when absent.
func marshalReview(review *types.StageReview) (any, error) {
	if review == nil {
		return nil, nil
	}
	raw, err := json.Marshal(review)
	if err != nil {
		return nil, fmt.Errorf("marshaling stage review: %w", err)
	}
	return string(raw), nil
}

// CompleteJob persists the stage-4 summary and marks the job complete.
func (s *Store) CompleteJob(ctx context.Context, id string, result *types.PopulationResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling population result: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET population = ?, status = ?, error = '', completed_at = ? WHERE id = ?`,
		string(raw), string(types.StatusComplete), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	return checkAffected(res, "job", id)
}

// FailJob marks the job failed with a terminal error message.
func (s *Store) FailJob(ctx context.Context, id string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(types.StatusFailed), msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}
	return checkAffected(res, "job", id)
}

// IncrementRetry consumes one retry attempt if the ceiling allows it, in a
// single statement so the ceiling holds under concurrent retries. Returns
// the new retry count, or ErrRetryCeiling when the budget is exhausted.
func (s *Store) IncrementRetry(ctx context.Context, id string, ceiling int) (int, error) {
	return incrementRetry(ctx, s.db, id, ceiling)
}

func incrementRetry(ctx context.Context, db dbtx, id string, ceiling int) (int, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE jobs SET retry_count = retry_count + 1 WHERE id = ? AND retry_count < ?`,
		id, ceiling)
	if err != nil {
		return 0, fmt.Errorf("incrementing retry for job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		var count int
		err := db.QueryRowContext(ctx, `SELECT retry_count FROM jobs WHERE id = ?`, id).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return 0, fmt.Errorf("loading retry count for job %s: %w", id, err)
		}
		return count, fmt.Errorf("job %s at %d/%d retries: %w", id, count, ceiling, ErrRetryCeiling)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT retry_count FROM jobs WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("loading retry count for job %s: %w", id, err)
	}
	return count, nil
}

// ResetForRetry rewinds the job to the given stage: status back to queued,
// error cleared, and the outputs of that stage and everything after it
// discarded so a re-run cannot see stale downstream state. Outputs of
// earlier stages, and their review records, are kept and reused.
func (s *Store) ResetForRetry(ctx context.Context, id string, from types.Stage) error {
	return resetForRetry(ctx, s.db, id, from)
}

func resetForRetry(ctx context.Context, db dbtx, id string, from types.Stage) error {
	idx := types.StageIndex(from)
	if idx < 0 {
		return fmt.Errorf("unknown stage: %s", from)
	}

	set := `status = ?, current_stage = ?, error = '', completed_at = NULL, progress = NULL, population = NULL`
	if idx <= types.StageIndex(types.StageSpecializedExtraction) {
		set += `, specialized = NULL, specialized_review = NULL`
	}
	if idx <= types.StageIndex(types.StageGeneralExtraction) {
		set += `, raw_extraction = NULL, raw_review = NULL`
	}
	if idx <= types.StageIndex(types.StageClassification) {
		set += `, classification = NULL`
	}

	res, err := db.ExecContext(ctx,
		`UPDATE jobs SET `+set+` WHERE id = ?`,
		string(types.StatusQueued), string(from), id)
	if err != nil {
		return fmt.Errorf("resetting job %s for retry: %w", id, err)
	}
	return checkAffected(res, "job", id)
}

// RetryFromStage consumes one retry attempt and rewinds the job to the given
// stage in a single transaction, so a refused or failed rewind never burns
// the retry budget. Returns the new retry count.
func (s *Store) RetryFromStage(ctx context.Context, id string, from types.Stage, ceiling int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning retry for job %s: %w", id, err)
	}
	defer tx.Rollback()

	count, err := incrementRetry(ctx, tx, id, ceiling)
	if err != nil {
		return count, err
	}
	if err := resetForRetry(ctx, tx, id, from); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing retry for job %s: %w", id, err)
	}
	return count, nil
}

// DeleteJob removes a job and its items.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	return checkAffected(res, "job", id)
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		job               types.Job
		status, stage     string
		progress          sql.NullString
		classification    sql.NullString
		rawExtraction     sql.NullString
		rawReview         sql.NullString
		specialized       sql.NullString
		specializedReview sql.NullString
		population        sql.NullString
		completedAt       sql.NullTime
	)
	err := row.Scan(&job.ID, &job.Filename, &job.MimeType, &job.FileSize, &job.ContentPath,
		&status, &stage, &progress, &classification, &rawExtraction, &rawReview,
		&specialized, &specializedReview, &population, &job.Error, &job.RetryCount,
		&job.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}

	job.Status = types.Status(status)
	job.CurrentStage = types.Stage(stage)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	if progress.Valid && progress.String != "" {
		if err := json.Unmarshal([]byte(progress.String), &job.Progress); err != nil {
			return nil, fmt.Errorf("decoding progress for job %s: %w", job.ID, err)
		}
	}
	if classification.Valid && classification.String != "" {
		if err := json.Unmarshal([]byte(classification.String), &job.Classification); err != nil {
			return nil, fmt.Errorf("decoding classification for job %s: %w", job.ID, err)
		}
	}
	if rawExtraction.Valid && rawExtraction.String != "" {
		if err := json.Unmarshal([]byte(rawExtraction.String), &job.RawExtraction); err != nil {
			return nil, fmt.Errorf("decoding raw extraction for job %s: %w", job.ID, err)
		}
	}
	if rawReview.Valid && rawReview.String != "" {
		if err := json.Unmarshal([]byte(rawReview.String), &job.RawReview); err != nil {
			return nil, fmt.Errorf("decoding raw extraction review for job %s: %w", job.ID, err)
		}
	}
	if specialized.Valid && specialized.String != "" {
		if err := json.Unmarshal([]byte(specialized.String), &job.Specialized); err != nil {
			return nil, fmt.Errorf("decoding specialized entities for job %s: %w", job.ID, err)
		}
	}
	if specializedReview.Valid && specializedReview.String != "" {
		if err := json.Unmarshal([]byte(specializedReview.String), &job.SpecializedReview); err != nil {
			return nil, fmt.Errorf("decoding specialized review for job %s: %w", job.ID, err)
		}
	}
	if population.Valid && population.String != "" {
		if err := json.Unmarshal([]byte(population.String), &job.Population); err != nil {
			return nil, fmt.Errorf("decoding population result for job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}
