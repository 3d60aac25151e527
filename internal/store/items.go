package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jackzampolin/intake/internal/types"
)

// ReplaceItems swaps a job's materialized items for the given set in one
// transaction. Merge decisions (preserving human-edited items across a
// regeneration) are the materializer's responsibility; the store replaces
// exactly what it is handed.
func (s *Store) ReplaceItems(ctx context.Context, jobID string, items []types.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning item replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("clearing items for job %s: %w", jobID, err)
	}

	for _, it := range items {
		var structured any
		if it.Structured != nil {
			raw, err := json.Marshal(it.Structured)
			if err != nil {
				return fmt.Errorf("marshaling structured data for item %s: %w", it.ID, err)
			}
			structured = string(raw)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO items (id, job_id, type, section, content, confidence, status,
			                    source_quote, source_speaker, source_timestamp, structured, edited)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, jobID, string(it.Type), string(it.Section), it.Content, it.Confidence,
			string(it.Status), it.SourceQuote, it.SourceSpeaker, it.SourceTimestamp,
			structured, it.Edited)
		if err != nil {
			return fmt.Errorf("inserting item %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing item replace: %w", err)
	}
	return nil
}

// ItemFilter narrows ListItems results.
type ItemFilter struct {
	JobID   string
	Section types.Section
	Status  types.ItemStatus
}

// ListItems returns materialized items matching the filter, oldest first.
func (s *Store) ListItems(ctx context.Context, filter ItemFilter) ([]types.Item, error) {
	query := `SELECT id, job_id, type, section, content, confidence, status,
	                 source_quote, source_speaker, source_timestamp, structured, edited, created_at
	          FROM items WHERE 1=1`
	var args []any
	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	if filter.Section != "" {
		query += ` AND section = ?`
		args = append(args, string(filter.Section))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []types.Item
	for rows.Next() {
		var (
			it         types.Item
			typ        string
			section    string
			status     string
			structured sql.NullString
		)
		err := rows.Scan(&it.ID, &it.JobID, &typ, &section, &it.Content, &it.Confidence,
			&status, &it.SourceQuote, &it.SourceSpeaker, &it.SourceTimestamp,
			&structured, &it.Edited, &it.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		it.Type = types.EntityType(typ)
		it.Section = types.Section(section)
		it.Status = types.ItemStatus(status)
		if structured.Valid && structured.String != "" {
			if err := json.Unmarshal([]byte(structured.String), &it.Structured); err != nil {
				return nil, fmt.Errorf("decoding structured data for item %s: %w", it.ID, err)
			}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateItemStatus applies a review decision to a single item and marks it
// edited so later regenerations preserve it.
func (s *Store) UpdateItemStatus(ctx context.Context, id string, status types.ItemStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, edited = 1 WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating item %s: %w", id, err)
	}
	return checkAffected(res, "item", id)
}
