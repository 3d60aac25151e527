package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LLMCall is one persisted gateway invocation record.
type LLMCall struct {
	ID               string        `json:"id"`
	Gateway          string        `json:"gateway"`
	Model            string        `json:"model"`
	Kind             string        `json:"kind"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Duration         time.Duration `json:"duration"`
	Attempts         int           `json:"attempts"`
	ErrorKind        string        `json:"error_kind,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// InsertCall records a gateway invocation in the audit log.
func (s *Store) InsertCall(ctx context.Context, call LLMCall) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_calls (id, gateway, model, kind, prompt_tokens, completion_tokens, duration_ms, attempts, error_kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.Gateway, call.Model, call.Kind, call.PromptTokens,
		call.CompletionTokens, call.Duration.Milliseconds(), call.Attempts, call.ErrorKind)
	if err != nil {
		return fmt.Errorf("inserting llm call: %w", err)
	}
	return nil
}

// ListCalls returns the most recent gateway invocations, newest first.
func (s *Store) ListCalls(ctx context.Context, limit int) ([]LLMCall, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, gateway, model, kind, prompt_tokens, completion_tokens, duration_ms, attempts, error_kind, created_at
		 FROM llm_calls ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing llm calls: %w", err)
	}
	defer rows.Close()

	var calls []LLMCall
	for rows.Next() {
		var (
			call LLMCall
			ms   int64
		)
		err := rows.Scan(&call.ID, &call.Gateway, &call.Model, &call.Kind,
			&call.PromptTokens, &call.CompletionTokens, &ms, &call.Attempts,
			&call.ErrorKind, &call.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning llm call: %w", err)
		}
		call.Duration = time.Duration(ms) * time.Millisecond
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

// CallStats summarizes the audit log per gateway.
type CallStats struct {
	Gateway          string `json:"gateway"`
	Calls            int    `json:"calls"`
	Errors           int    `json:"errors"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// CallTotals aggregates call counts and token usage per gateway.
func (s *Store) CallTotals(ctx context.Context) ([]CallStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT gateway, COUNT(*), SUM(CASE WHEN error_kind != '' THEN 1 ELSE 0 END),
		        SUM(prompt_tokens), SUM(completion_tokens)
		 FROM llm_calls GROUP BY gateway ORDER BY gateway`)
	if err != nil {
		return nil, fmt.Errorf("aggregating llm calls: %w", err)
	}
	defer rows.Close()

	var stats []CallStats
	for rows.Next() {
		var cs CallStats
		if err := rows.Scan(&cs.Gateway, &cs.Calls, &cs.Errors, &cs.PromptTokens, &cs.CompletionTokens); err != nil {
			return nil, fmt.Errorf("scanning call stats: %w", err)
		}
		stats = append(stats, cs)
	}
	return stats, rows.Err()
}
