// Package types holds the shared domain model for the extraction pipeline:
// jobs, stages, candidate entities, and stage results.
package types

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Stage is one of the four ordered processing steps.
type Stage string

const (
	StageClassification        Stage = "classification"
	StageGeneralExtraction     Stage = "general_extraction"
	StageSpecializedExtraction Stage = "specialized_extraction"
	StageTabPopulation         Stage = "tab_population"
)

// stageOrder defines the pipeline sequence.
var stageOrder = []Stage{
	StageClassification,
	StageGeneralExtraction,
	StageSpecializedExtraction,
	StageTabPopulation,
}

// Stages returns the full ordered stage sequence.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// StageIndex returns the position of a stage in the pipeline, or -1 if the
// stage is unknown.
func StageIndex(s Stage) int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// StagesFrom returns the stage sequence starting at from (inclusive).
func StagesFrom(from Stage) ([]Stage, error) {
	idx := StageIndex(from)
	if idx < 0 {
		return nil, fmt.Errorf("unknown stage: %s", from)
	}
	return stageOrder[idx:], nil
}

// ValidStage reports whether s names a pipeline stage.
func ValidStage(s Stage) bool {
	return StageIndex(s) >= 0
}

// RetryCeiling is the maximum number of retries a failed job may consume.
// Once reached, retry is refused regardless of job status.
const RetryCeiling = 3

// StageProgress is the stage-shaped snapshot of the most recent sub-step.
type StageProgress struct {
	Stage     Stage     `json:"stage"`
	Step      string    `json:"step"`
	Detail    string    `json:"detail,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContentType is the stage-1 classification tag for an uploaded artifact.
type ContentType string

const (
	ContentKickoffSession       ContentType = "kickoff_session"
	ContentTechnicalSession     ContentType = "technical_session"
	ContentRequirementsDocument ContentType = "requirements_document"
)

// ValidContentType reports whether t is a known content type.
func ValidContentType(t ContentType) bool {
	switch t {
	case ContentKickoffSession, ContentTechnicalSession, ContentRequirementsDocument:
		return true
	}
	return false
}

// ClassificationResult is the typed stage-1 output, persisted on the job
// once produced. Low confidence is a visible field, never hidden.
type ClassificationResult struct {
	ContentType ContentType `json:"content_type"`
	Confidence  float64     `json:"confidence"`
	Indicators  []string    `json:"indicators,omitempty"` // Key phrases that drove the decision
	Flagged     bool        `json:"flagged,omitempty"`    // Quality gate asked for review
}

// StageReview is the durable gate outcome for an extraction stage: whether
// the quality gate asked for review, plus the non-fatal warnings collected
// while decoding the stage output. Persisted alongside the stage's entities
// so a retry from a later stage carries the same bias the original run did.
type StageReview struct {
	Flagged  bool     `json:"flagged,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// PopulationResult is the typed stage-4 summary: counts per materialized
// kind plus accumulated non-fatal warnings.
type PopulationResult struct {
	Items         int      `json:"items"`
	Approved      int      `json:"approved"`
	Pending       int      `json:"pending"`
	Business      int      `json:"business"`
	Technical     int      `json:"technical"`
	Integrations  int      `json:"integrations"`
	BusinessRules int      `json:"business_rules"`
	TestCases     int      `json:"test_cases"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Job is the unit of pipeline work: one run for one uploaded artifact.
// Mutated only by the orchestrator while a run is in flight.
type Job struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	FileSize    int64  `json:"file_size"`
	ContentPath string `json:"content_path"`

	Status       Status         `json:"status"`
	CurrentStage Stage          `json:"current_stage"`
	Progress     *StageProgress `json:"stage_progress,omitempty"`

	// Per-stage outputs, persisted before the next stage begins so a retry
	// never re-runs an earlier stage.
	Classification    *ClassificationResult `json:"classification,omitempty"`
	RawExtraction     []CandidateEntity     `json:"raw_extraction,omitempty"`
	RawReview         *StageReview          `json:"raw_review,omitempty"`
	Specialized       []CandidateEntity     `json:"specialized,omitempty"`
	SpecializedReview *StageReview          `json:"specialized_review,omitempty"`
	Population        *PopulationResult     `json:"population,omitempty"`

	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

// ReviewFlagged reports whether any completed stage's quality gate asked for
// review. The flag is sticky: once set it biases materialization toward
// PENDING for the rest of the run, including runs resumed after a retry.
func (j *Job) ReviewFlagged() bool {
	return (j.Classification != nil && j.Classification.Flagged) ||
		(j.RawReview != nil && j.RawReview.Flagged) ||
		(j.SpecializedReview != nil && j.SpecializedReview.Flagged)
}
