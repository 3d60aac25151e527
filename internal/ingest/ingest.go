// Package ingest accepts uploaded documents, validates them, and turns
// them into queued jobs. Validation failures are input errors: they happen
// before any job exists and never touch the pipeline state machine.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/intake/internal/blob"
	"github.com/jackzampolin/intake/internal/types"
)

// ErrInvalidInput marks a rejected upload. Handlers map it to a 400.
var ErrInvalidInput = errors.New("invalid input")

// DefaultMaxUploadBytes caps upload size when no limit is configured.
const DefaultMaxUploadBytes = 100 << 20

// mimeByExt is the closed set of accepted upload formats.
var mimeByExt = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".vtt":  "text/vtt",
	".srt":  "application/x-subrip",
	".md":   "text/markdown",
	".json": "application/json",
}

// JobCreator is the store surface ingestion needs.
type JobCreator interface {
	CreateJob(ctx context.Context, job *types.Job) error
}

// Submitter schedules a created job for execution.
type Submitter interface {
	Submit(jobID string)
}

// Ingestor validates uploads and creates jobs.
type Ingestor struct {
	blobs    *blob.Store
	jobs     JobCreator
	runner   Submitter
	maxBytes int64
	logger   *slog.Logger
}

// New creates an ingestor.
func New(blobs *blob.Store, jobs JobCreator, runner Submitter, maxBytes int64, logger *slog.Logger) *Ingestor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{blobs: blobs, jobs: jobs, runner: runner, maxBytes: maxBytes, logger: logger}
}

// Ingest validates the upload, stores its content, creates a queued job,
// and schedules it. The returned job is the caller's handle for progress.
func (i *Ingestor) Ingest(ctx context.Context, filename string, content []byte) (*types.Job, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	if int64(len(content)) > i.maxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d byte limit", ErrInvalidInput, i.maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	mime, ok := mimeByExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidInput, ext)
	}

	if mime == "application/pdf" {
		if err := validatePDF(content); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	path, err := i.blobs.Put(filename, content)
	if err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	job := &types.Job{
		ID:           uuid.New().String(),
		Filename:     filepath.Base(filename),
		MimeType:     mime,
		FileSize:     int64(len(content)),
		ContentPath:  path,
		Status:       types.StatusQueued,
		CurrentStage: types.StageClassification,
		CreatedAt:    time.Now().UTC(),
	}
	if err := i.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	i.logger.Info("job created", "job_id", job.ID, "filename", job.Filename,
		"mime_type", mime, "size", job.FileSize)
	i.runner.Submit(job.ID)
	return job, nil
}

// validatePDF checks the document parses and has at least one page.
func validatePDF(content []byte) error {
	pages, err := api.PageCount(bytes.NewReader(content), nil)
	if err != nil {
		return fmt.Errorf("unreadable PDF: %v", err)
	}
	if pages == 0 {
		return fmt.Errorf("PDF has no pages")
	}
	return nil
}
