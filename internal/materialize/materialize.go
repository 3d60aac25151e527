// Package materialize turns validated candidate entities into durable,
// review-tracked items. Materialization is deterministic: a confidence at or
// above the approval threshold always yields APPROVED, anything below always
// yields PENDING, and a review-flagged run caps everything at PENDING.
package materialize

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jackzampolin/intake/internal/store"
	"github.com/jackzampolin/intake/internal/types"
)

// ItemStore is the persistence surface the materializer needs.
type ItemStore interface {
	ListItems(ctx context.Context, filter store.ItemFilter) ([]types.Item, error)
	ReplaceItems(ctx context.Context, jobID string, items []types.Item) error
}

// Materializer maps specialized entities into materialized items.
type Materializer struct {
	store     ItemStore
	threshold float64
	logger    *slog.Logger
}

// New creates a materializer. A zero threshold selects the default
// approval threshold.
func New(st ItemStore, threshold float64, logger *slog.Logger) *Materializer {
	if threshold <= 0 {
		threshold = types.ApproveThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{store: st, threshold: threshold, logger: logger}
}

// Materialize converts entities into items for the job and persists them,
// merging with any human-edited items from a previous run. A malformed or
// unmapped entity is skipped with a warning, never fatal to the batch.
// reviewFlagged caps every fresh item at PENDING regardless of confidence.
func (m *Materializer) Materialize(ctx context.Context, job *types.Job, entities []types.CandidateEntity, reviewFlagged bool) (*types.PopulationResult, error) {
	result := &types.PopulationResult{}

	var fresh []types.Item
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipped malformed entity: %v", err))
			continue
		}
		section, ok := types.SectionFor(e.Type)
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipped entity with unmapped type %s", e.Type))
			continue
		}

		status := types.ItemPending
		if !reviewFlagged && e.Confidence >= m.threshold {
			status = types.ItemApproved
		}

		fresh = append(fresh, types.Item{
			ID:              uuid.New().String(),
			JobID:           job.ID,
			Type:            e.Type,
			Section:         section,
			Content:         e.Content,
			Confidence:      e.Confidence,
			Status:          status,
			SourceQuote:     e.SourceQuote,
			SourceSpeaker:   e.SourceSpeaker,
			SourceTimestamp: e.SourceTimestamp,
			Structured:      e.Structured,
		})
	}

	final, err := m.merge(ctx, job.ID, fresh)
	if err != nil {
		return nil, err
	}

	if err := m.store.ReplaceItems(ctx, job.ID, final); err != nil {
		return nil, fmt.Errorf("persisting items for job %s: %w", job.ID, err)
	}

	for _, it := range final {
		result.Items++
		switch it.Status {
		case types.ItemApproved:
			result.Approved++
		case types.ItemPending:
			result.Pending++
		}
		switch it.Section {
		case types.SectionBusiness:
			result.Business++
		case types.SectionTechnical:
			result.Technical++
		}
		switch it.Type {
		case types.EntitySystemIntegration:
			result.Integrations++
		case types.EntityBusinessRule, types.EntityGuardrailNever, types.EntityGuardrailAlways:
			result.BusinessRules++
		case types.EntityTestCase:
			result.TestCases++
		}
	}

	m.logger.Info("materialized items",
		"job_id", job.ID,
		"items", result.Items,
		"approved", result.Approved,
		"pending", result.Pending,
		"warnings", len(result.Warnings))
	return result, nil
}

// merge preserves human-edited items from a previous run: an edited item
// survives regeneration, and a fresh item duplicating it (same type and
// content) is dropped in its favor.
func (m *Materializer) merge(ctx context.Context, jobID string, fresh []types.Item) ([]types.Item, error) {
	existing, err := m.store.ListItems(ctx, store.ItemFilter{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("loading existing items for job %s: %w", jobID, err)
	}

	var kept []types.Item
	seen := make(map[string]struct{})
	for _, it := range existing {
		if it.Edited {
			kept = append(kept, it)
			seen[itemKey(it.Type, it.Content)] = struct{}{}
		}
	}

	final := kept
	for _, it := range fresh {
		if _, dup := seen[itemKey(it.Type, it.Content)]; dup {
			continue
		}
		final = append(final, it)
	}
	return final, nil
}

func itemKey(t types.EntityType, content string) string {
	return string(t) + "\x00" + content
}
