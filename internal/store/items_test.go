package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/intake/internal/types"
)

func item(jobID string, typ types.EntityType, section types.Section, content string, conf float64, status types.ItemStatus) types.Item {
	return types.Item{
		ID:         uuid.New().String(),
		JobID:      jobID,
		Type:       typ,
		Section:    section,
		Content:    content,
		Confidence: conf,
		Status:     status,
	}
}

func TestStore_Items(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	goal := item(job.ID, types.EntityKPITarget, types.SectionBusiness, "Onboarding in three days", 0.9, types.ItemApproved)
	goal.SourceQuote = "from two weeks to three days"
	goal.SourceSpeaker = "Sarah"
	integ := item(job.ID, types.EntitySystemIntegration, types.SectionTechnical, "Salesforce nightly sync", 0.7, types.ItemPending)
	integ.Structured = &types.StructuredData{
		Integration: &types.IntegrationData{SystemName: "Salesforce", Direction: "bidirectional", Cadence: "nightly"},
	}

	if err := st.ReplaceItems(ctx, job.ID, []types.Item{goal, integ}); err != nil {
		t.Fatalf("ReplaceItems() error = %v", err)
	}

	t.Run("list round-trips", func(t *testing.T) {
		items, err := st.ListItems(ctx, ItemFilter{JobID: job.ID})
		if err != nil {
			t.Fatalf("ListItems() error = %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("got %d items, want 2", len(items))
		}
		for _, it := range items {
			switch it.ID {
			case goal.ID:
				if it.SourceQuote != goal.SourceQuote || it.SourceSpeaker != "Sarah" {
					t.Errorf("provenance lost: %+v", it)
				}
				if it.Status != types.ItemApproved {
					t.Errorf("Status = %v, want approved", it.Status)
				}
			case integ.ID:
				if it.Structured == nil || it.Structured.Integration == nil {
					t.Fatalf("structured payload lost: %+v", it)
				}
				if it.Structured.Integration.SystemName != "Salesforce" {
					t.Errorf("SystemName = %q", it.Structured.Integration.SystemName)
				}
			default:
				t.Errorf("unexpected item %s", it.ID)
			}
		}
	})

	t.Run("section filter", func(t *testing.T) {
		items, err := st.ListItems(ctx, ItemFilter{JobID: job.ID, Section: types.SectionTechnical})
		if err != nil {
			t.Fatalf("ListItems() error = %v", err)
		}
		if len(items) != 1 || items[0].ID != integ.ID {
			t.Errorf("ListItems(technical) = %v", items)
		}
	})

	t.Run("status filter", func(t *testing.T) {
		items, err := st.ListItems(ctx, ItemFilter{JobID: job.ID, Status: types.ItemApproved})
		if err != nil {
			t.Fatalf("ListItems() error = %v", err)
		}
		if len(items) != 1 || items[0].ID != goal.ID {
			t.Errorf("ListItems(approved) = %v", items)
		}
	})

	t.Run("replace swaps the full set", func(t *testing.T) {
		fresh := item(job.ID, types.EntityGoal, types.SectionBusiness, "New goal", 0.85, types.ItemApproved)
		if err := st.ReplaceItems(ctx, job.ID, []types.Item{fresh}); err != nil {
			t.Fatalf("ReplaceItems() error = %v", err)
		}
		items, err := st.ListItems(ctx, ItemFilter{JobID: job.ID})
		if err != nil {
			t.Fatalf("ListItems() error = %v", err)
		}
		if len(items) != 1 || items[0].ID != fresh.ID {
			t.Errorf("items after replace = %v", items)
		}
	})
}

func TestStore_UpdateItemStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	job := newTestJob()
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	it := item(job.ID, types.EntityGoal, types.SectionBusiness, "g", 0.5, types.ItemPending)
	if err := st.ReplaceItems(ctx, job.ID, []types.Item{it}); err != nil {
		t.Fatalf("ReplaceItems() error = %v", err)
	}

	if err := st.UpdateItemStatus(ctx, it.ID, types.ItemApproved); err != nil {
		t.Fatalf("UpdateItemStatus() error = %v", err)
	}
	items, err := st.ListItems(ctx, ItemFilter{JobID: job.ID})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if items[0].Status != types.ItemApproved {
		t.Errorf("Status = %v, want approved", items[0].Status)
	}
	if !items[0].Edited {
		t.Error("review decision should mark the item edited")
	}

	if err := st.UpdateItemStatus(ctx, "missing", types.ItemApproved); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateItemStatus(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_Calls(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	calls := []LLMCall{
		{Gateway: "openai", Model: "gpt-5-mini", Kind: "classify", PromptTokens: 1200, CompletionTokens: 150, Duration: 900 * time.Millisecond, Attempts: 1},
		{Gateway: "openai", Model: "gpt-5-mini", Kind: "extract", PromptTokens: 3000, CompletionTokens: 800, Duration: 2 * time.Second, Attempts: 2, ErrorKind: "timeout"},
		{Gateway: "openrouter", Model: "llama-3.3-70b", Kind: "evaluate", PromptTokens: 500, CompletionTokens: 60, Duration: 400 * time.Millisecond, Attempts: 1},
	}
	for _, c := range calls {
		if err := st.InsertCall(ctx, c); err != nil {
			t.Fatalf("InsertCall() error = %v", err)
		}
	}

	t.Run("list round-trips", func(t *testing.T) {
		got, err := st.ListCalls(ctx, 10)
		if err != nil {
			t.Fatalf("ListCalls() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d calls, want 3", len(got))
		}
		for _, c := range got {
			if c.ID == "" {
				t.Error("InsertCall should assign an ID")
			}
			if c.Kind == "extract" && c.Duration != 2*time.Second {
				t.Errorf("Duration = %v, want 2s", c.Duration)
			}
		}
	})

	t.Run("limit", func(t *testing.T) {
		got, err := st.ListCalls(ctx, 2)
		if err != nil {
			t.Fatalf("ListCalls() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("got %d calls, want 2", len(got))
		}
	})

	t.Run("totals aggregate per gateway", func(t *testing.T) {
		stats, err := st.CallTotals(ctx)
		if err != nil {
			t.Fatalf("CallTotals() error = %v", err)
		}
		if len(stats) != 2 {
			t.Fatalf("got %d gateways, want 2", len(stats))
		}
		// Ordered by gateway name.
		oa := stats[0]
		if oa.Gateway != "openai" || oa.Calls != 2 || oa.Errors != 1 {
			t.Errorf("openai stats = %+v", oa)
		}
		if oa.PromptTokens != 4200 || oa.CompletionTokens != 950 {
			t.Errorf("openai tokens = %d/%d", oa.PromptTokens, oa.CompletionTokens)
		}
		or := stats[1]
		if or.Gateway != "openrouter" || or.Calls != 1 || or.Errors != 0 {
			t.Errorf("openrouter stats = %+v", or)
		}
	})
}
