package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/intake/internal/evaluator"
	"github.com/jackzampolin/intake/internal/gateway"
	"github.com/jackzampolin/intake/internal/materialize"
	"github.com/jackzampolin/intake/internal/store"
	"github.com/jackzampolin/intake/internal/types"
)

const sourceTranscript = `Sarah: Our goal is to cut onboarding time from two weeks to three days.
Mike: The pilot has to launch in Q3, no later.
Sarah: Budget is capped at fifty thousand dollars for phase one.
Priya: I own the integration workstream on the client side.
Mike: Open question for the group: who signs off on the data mapping?`

const classifyResponse = `{"content_type": "kickoff_session", "confidence": 0.85, "indicators": ["goal", "budget", "pilot launch"]}`

const judgePassResponse = `{"score": 0.9, "issues": [], "missed": []}`

const extractResponse = `{"entities": [
	{"type": "GOAL", "content": "Cut onboarding time from two weeks to three days", "confidence": 0.9, "source_quote": "cut onboarding time from two weeks to three days", "source_speaker": "Sarah"},
	{"type": "GOAL", "content": "Launch the pilot in Q3", "confidence": 0.9, "source_quote": "The pilot has to launch in Q3", "source_speaker": "Mike"},
	{"type": "DECISION", "content": "Phase one budget capped at fifty thousand dollars", "confidence": 0.9, "source_quote": "Budget is capped at fifty thousand dollars for phase one", "source_speaker": "Sarah"},
	{"type": "STAKEHOLDER", "content": "Priya owns the integration workstream", "confidence": 0.9, "source_quote": "I own the integration workstream", "source_speaker": "Priya"},
	{"type": "OPEN_QUESTION", "content": "Who signs off on the data mapping", "confidence": 0.9, "source_quote": "who signs off on the data mapping", "source_speaker": "Mike"}
]}`

const specializeResponse = `{"entities": [
	{"type": "KPI_TARGET", "content": "Onboarding time reduced to three days", "confidence": 0.9, "source_quote": "cut onboarding time from two weeks to three days", "source_speaker": "Sarah", "structured_data": {"metric": "onboarding time", "target": "three days"}},
	{"type": "TIMELINE_MILESTONE", "content": "Pilot launch in Q3", "confidence": 0.9, "source_quote": "The pilot has to launch in Q3", "source_speaker": "Mike"},
	{"type": "BUDGET_CONSTRAINT", "content": "Phase one capped at fifty thousand dollars", "confidence": 0.9, "source_quote": "Budget is capped at fifty thousand dollars for phase one", "source_speaker": "Sarah"},
	{"type": "STAKEHOLDER", "content": "Priya owns the integration workstream", "confidence": 0.9, "source_quote": "I own the integration workstream", "source_speaker": "Priya"},
	{"type": "GOAL", "content": "Cut onboarding time from two weeks to three days", "confidence": 0.9, "source_quote": "cut onboarding time from two weeks to three days", "source_speaker": "Sarah"}
]}`

// memBlobs serves job content from memory.
type memBlobs map[string][]byte

func (m memBlobs) Get(path string) ([]byte, error) {
	content, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("no blob at %s", path)
	}
	return content, nil
}

type pipelineFixture struct {
	store  *store.Store
	blobs  memBlobs
	client *gateway.MockClient
	orch   *Orchestrator
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	client := gateway.NewMockClient()
	gate := evaluator.NewGate(client, evaluator.DefaultThresholds(), nil)
	mat := materialize.New(st, 0, nil)
	blobs := memBlobs{}
	return &pipelineFixture{
		store:  st,
		blobs:  blobs,
		client: client,
		orch:   New(st, blobs, client, gate, mat, nil),
	}
}

func (f *pipelineFixture) createJob(t *testing.T) *types.Job {
	t.Helper()
	job := &types.Job{
		ID:           uuid.New().String(),
		Filename:     "kickoff.txt",
		MimeType:     "text/plain",
		FileSize:     int64(len(sourceTranscript)),
		ContentPath:  "blobs/kickoff.txt",
		Status:       types.StatusQueued,
		CurrentStage: types.StageClassification,
		CreatedAt:    time.Now().UTC(),
	}
	if err := f.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	f.blobs[job.ContentPath] = []byte(sourceTranscript)
	return job
}

// scriptHappyPath queues responses for a clean four-stage run: one judge call
// per gated stage (classification, then the coverage judge twice).
func (f *pipelineFixture) scriptHappyPath() {
	f.client.Script(gateway.TaskClassify, classifyResponse)
	f.client.Script(gateway.TaskExtract, extractResponse)
	f.client.Script(gateway.TaskSpecialize, specializeResponse)
	for i := 0; i < 3; i++ {
		f.client.Script(gateway.TaskEvaluate, judgePassResponse)
	}
}

func TestOrchestrator_FullRun(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t)
	f.scriptHappyPath()
	ctx := context.Background()

	if err := f.orch.Start(ctx, job.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != types.StatusComplete {
		t.Fatalf("Status = %v, want complete (error: %s)", got.Status, got.Error)
	}
	if got.Classification == nil || got.Classification.ContentType != types.ContentKickoffSession {
		t.Errorf("Classification = %+v", got.Classification)
	}
	if got.Classification.Flagged {
		t.Error("clean run should not be review-flagged")
	}
	if len(got.RawExtraction) != 5 {
		t.Errorf("RawExtraction has %d entities, want 5", len(got.RawExtraction))
	}
	if len(got.Specialized) != 5 {
		t.Errorf("Specialized has %d entities, want 5", len(got.Specialized))
	}
	if got.Population == nil {
		t.Fatal("Population not recorded")
	}
	if got.Population.Items != 5 || got.Population.Approved != 5 {
		t.Errorf("Population = %+v, want 5 items all approved", got.Population)
	}

	items, err := f.store.ListItems(ctx, store.ItemFilter{JobID: job.ID})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("got %d items, want 5", len(items))
	}
	var kpi *types.Item
	for i := range items {
		if items[i].Type == types.EntityKPITarget {
			kpi = &items[i]
		}
	}
	if kpi == nil {
		t.Fatal("KPI item missing")
	}
	if kpi.Structured == nil || kpi.Structured.KPITarget == nil || kpi.Structured.KPITarget.Metric != "onboarding time" {
		t.Errorf("KPI structured payload = %+v", kpi.Structured)
	}
	if kpi.SourceSpeaker != "Sarah" {
		t.Errorf("provenance lost: %+v", kpi)
	}
}

func TestOrchestrator_ReviewFlagCarriesToMaterialization(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t)
	ctx := context.Background()

	// Classification lands in the review band: (0.5 + 0.72) / 2 = 0.61,
	// within the margin below the 0.70 threshold. The flag must survive to
	// stage 4 and cap every item at PENDING.
	f.client.Script(gateway.TaskClassify, `{"content_type": "kickoff_session", "confidence": 0.72, "indicators": ["goal"]}`)
	f.client.Script(gateway.TaskEvaluate, `{"score": 0.5, "issues": ["could also read as a requirements document"], "missed": []}`)
	f.client.Script(gateway.TaskExtract, extractResponse)
	f.client.Script(gateway.TaskSpecialize, specializeResponse)
	f.client.Script(gateway.TaskEvaluate, judgePassResponse)
	f.client.Script(gateway.TaskEvaluate, judgePassResponse)

	if err := f.orch.Start(ctx, job.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != types.StatusComplete {
		t.Fatalf("Status = %v, want complete (error: %s)", got.Status, got.Error)
	}
	if !got.Classification.Flagged {
		t.Error("review-band classification should be flagged")
	}
	if got.Population.Approved != 0 || got.Population.Pending != 5 {
		t.Errorf("Population = %+v, want everything pending", got.Population)
	}
}

func TestOrchestrator_ReviewBiasSurvivesRetry(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t)
	ctx := context.Background()

	// The specialized coverage judge lands stage 3 in the review band:
	// (0.35 + 0.25*0.4 + 0.20) / 0.8 = 0.81, within the margin below the
	// effective threshold. Every item is capped at PENDING.
	f.client.Script(gateway.TaskClassify, classifyResponse)
	f.client.Script(gateway.TaskExtract, extractResponse)
	f.client.Script(gateway.TaskSpecialize, specializeResponse)
	f.client.Script(gateway.TaskEvaluate, judgePassResponse)
	f.client.Script(gateway.TaskEvaluate, judgePassResponse)
	f.client.Script(gateway.TaskEvaluate, `{"score": 0.4, "issues": ["several prior facts have no specialized counterpart"], "missed": []}`)

	if err := f.orch.Start(ctx, job.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	got, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.SpecializedReview == nil || !got.SpecializedReview.Flagged {
		t.Fatalf("SpecializedReview = %+v, want the review verdict persisted", got.SpecializedReview)
	}
	if got.Population.Approved != 0 || got.Population.Pending != 5 {
		t.Fatalf("Population = %+v, want everything pending", got.Population)
	}

	// A retry from tab population reuses the persisted entities. The review
	// bias must carry: the re-run may not approve what the gate flagged.
	if err := f.store.FailJob(ctx, job.ID, "boom"); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}
	if _, err := f.orch.Retry(ctx, job.ID, types.StageTabPopulation); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if err := f.orch.Start(ctx, job.ID); err != nil {
		t.Fatalf("Start() after retry error = %v", err)
	}

	got, err = f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != types.StatusComplete {
		t.Fatalf("Status = %v, want complete (error: %s)", got.Status, got.Error)
	}
	if got.Population.Approved != 0 || got.Population.Pending != 5 {
		t.Errorf("Population after retry = %+v, want the review bias preserved", got.Population)
	}
}

func TestOrchestrator_DecodeWarningsSurfaceInPopulation(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t)
	ctx := context.Background()

	// A KPI payload with the wrong shape: the fact survives, the payload is
	// dropped, and the warning must surface in the population summary.
	badPayload := strings.Replace(specializeResponse,
		`{"metric": "onboarding time", "target": "three days"}`, `{"metric": 7}`, 1)
	f.client.Script(gateway.TaskClassify, classifyResponse)
	f.client.Script(gateway.TaskExtract, extractResponse)
	f.client.Script(gateway.TaskSpecialize, badPayload)
	for i := 0; i < 3; i++ {
		f.client.Script(gateway.TaskEvaluate, judgePassResponse)
	}

	if err := f.orch.Start(ctx, job.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	got, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != types.StatusComplete {
		t.Fatalf("Status = %v, want complete (error: %s)", got.Status, got.Error)
	}
	if got.SpecializedReview == nil || len(got.SpecializedReview.Warnings) != 1 {
		t.Fatalf("SpecializedReview = %+v, want one decode warning", got.SpecializedReview)
	}
	if got.Population.Items != 5 {
		t.Errorf("Population.Items = %d, want the fact kept despite its payload", got.Population.Items)
	}
	found := false
	for _, w := range got.Population.Warnings {
		if strings.Contains(w, "specialized extraction") && strings.Contains(w, "KPI_TARGET") {
			found = true
		}
	}
	if !found {
		t.Errorf("Population.Warnings = %v, want the decode warning surfaced", got.Population.Warnings)
	}
}

func TestOrchestrator_StageFailurePreservesEarlierOutput(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t)
	ctx := context.Background()

	f.client.Script(gateway.TaskClassify, classifyResponse)
	f.client.Script(gateway.TaskEvaluate, judgePassResponse)
	f.client.FailKind(gateway.TaskExtract, gateway.ErrTimeout)

	err := f.orch.Start(ctx, job.ID)
	if err == nil {
		t.Fatal("expected stage failure")
	}
	if !strings.Contains(err.Error(), string(types.StageGeneralExtraction)) {
		t.Errorf("error %q should name the failed stage", err)
	}

	got, err := f.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != types.StatusFailed {
		t.Errorf("Status = %v, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("failure message not persisted")
	}
	if got.Classification == nil {
		t.Error("stage-1 output should survive a stage-2 failure")
	}
	if got.CurrentStage != types.StageGeneralExtraction {
		t.Errorf("CurrentStage = %v, want the failed stage", got.CurrentStage)
	}
}

func TestOrchestrator_TerminalJobNotStarted(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t)
	ctx := context.Background()
	if err := f.store.FailJob(ctx, job.ID, "already dead"); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}

	if err := f.orch.Start(ctx, job.ID); err != nil {
		t.Fatalf("Start() on terminal job error = %v", err)
	}
	if f.client.Requests() != 0 {
		t.Errorf("terminal job triggered %d model calls", f.client.Requests())
	}
}

func TestOrchestrator_Retry(t *testing.T) {
	ctx := context.Background()

	fail := func(t *testing.T, f *pipelineFixture, job *types.Job) {
		t.Helper()
		if err := f.store.FailJob(ctx, job.ID, "boom"); err != nil {
			t.Fatalf("FailJob() error = %v", err)
		}
	}

	t.Run("non-failed job refused", func(t *testing.T) {
		f := newFixture(t)
		job := f.createJob(t)
		if _, err := f.orch.Retry(ctx, job.ID, ""); err == nil {
			t.Error("expected refusal for a queued job")
		}
	})

	t.Run("default stage is where it failed", func(t *testing.T) {
		f := newFixture(t)
		job := f.createJob(t)
		if err := f.store.SaveClassification(ctx, job.ID, &types.ClassificationResult{ContentType: types.ContentKickoffSession, Confidence: 0.9}, types.StageGeneralExtraction); err != nil {
			t.Fatalf("SaveClassification() error = %v", err)
		}
		fail(t, f, job)

		ack, err := f.orch.Retry(ctx, job.ID, "")
		if err != nil {
			t.Fatalf("Retry() error = %v", err)
		}
		if ack.Stage != types.StageGeneralExtraction || ack.Attempt != 1 || ack.Ceiling != types.RetryCeiling {
			t.Errorf("ack = %+v", ack)
		}

		got, err := f.store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if got.Status != types.StatusQueued || got.Error != "" {
			t.Errorf("job = %s/%q, want queued with no error", got.Status, got.Error)
		}
		if got.Classification == nil {
			t.Error("classification should survive a retry from general extraction")
		}
	})

	t.Run("cannot retry beyond the reached stage", func(t *testing.T) {
		f := newFixture(t)
		job := f.createJob(t)
		fail(t, f, job)
		if _, err := f.orch.Retry(ctx, job.ID, types.StageTabPopulation); err == nil {
			t.Error("expected refusal for a stage the job never reached")
		}
	})

	t.Run("unknown stage rejected", func(t *testing.T) {
		f := newFixture(t)
		job := f.createJob(t)
		fail(t, f, job)
		if _, err := f.orch.Retry(ctx, job.ID, "bogus"); err == nil {
			t.Error("expected refusal for an unknown stage")
		}
	})

	t.Run("ceiling exhausts after three attempts", func(t *testing.T) {
		f := newFixture(t)
		job := f.createJob(t)
		for attempt := 1; attempt <= types.RetryCeiling; attempt++ {
			fail(t, f, job)
			ack, err := f.orch.Retry(ctx, job.ID, "")
			if err != nil {
				t.Fatalf("Retry() #%d error = %v", attempt, err)
			}
			if ack.Attempt != attempt {
				t.Errorf("attempt = %d, want %d", ack.Attempt, attempt)
			}
		}
		fail(t, f, job)
		if _, err := f.orch.Retry(ctx, job.ID, ""); !errors.Is(err, store.ErrRetryCeiling) {
			t.Errorf("fourth retry error = %v, want ErrRetryCeiling", err)
		}
	})

	t.Run("missing job", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.orch.Retry(ctx, "missing", ""); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestDecodeEntities(t *testing.T) {
	t.Run("drops invalid keeps the rest", func(t *testing.T) {
		raw := []byte(`{"entities": [
			{"type": "GOAL", "content": "valid", "confidence": 0.9},
			{"type": "", "content": "no type", "confidence": 0.9},
			{"type": "GOAL", "content": "bad confidence", "confidence": 1.5}
		]}`)
		entities, warnings, err := decodeEntities(raw)
		if err != nil {
			t.Fatalf("decodeEntities() error = %v", err)
		}
		if len(entities) != 1 || entities[0].Content != "valid" {
			t.Errorf("entities = %+v", entities)
		}
		if len(warnings) != 2 {
			t.Errorf("warnings = %v, want 2", warnings)
		}
	})

	t.Run("bad structured payload drops only the payload", func(t *testing.T) {
		raw := []byte(`{"entities": [
			{"type": "TEST_CASE", "content": "smoke", "confidence": 0.9, "structured_data": {"scenario": 7}}
		]}`)
		entities, warnings, err := decodeEntities(raw)
		if err != nil {
			t.Fatalf("decodeEntities() error = %v", err)
		}
		if len(entities) != 1 {
			t.Fatalf("entities = %+v, want the fact kept", entities)
		}
		if entities[0].Structured != nil {
			t.Error("malformed payload should be dropped")
		}
		if len(warnings) != 1 {
			t.Errorf("warnings = %v, want 1", warnings)
		}
	})

	t.Run("not json", func(t *testing.T) {
		if _, _, err := decodeEntities([]byte(`nope`)); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestChecklistCoverage(t *testing.T) {
	vocab := types.GeneralVocabulary()
	entities := []types.CandidateEntity{
		{Type: types.EntityGoal, Content: "g", Confidence: 0.9},
		{Type: types.EntityGoal, Content: "g2", Confidence: 0.9},
		{Type: types.EntityDecision, Content: "d", Confidence: 0.9},
	}
	// 2 of 7 vocabulary tags present; duplicates count once.
	want := 2.0 / 7.0
	if got := checklistCoverage(entities, vocab); got != want {
		t.Errorf("checklistCoverage() = %v, want %v", got, want)
	}
	if got := checklistCoverage(nil, vocab); got != 0 {
		t.Errorf("checklistCoverage(none) = %v, want 0", got)
	}
}
