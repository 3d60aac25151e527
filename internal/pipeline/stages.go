package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackzampolin/intake/internal/evaluator"
	"github.com/jackzampolin/intake/internal/gateway"
	"github.com/jackzampolin/intake/internal/types"
)

// wireEntity is the extraction stages' JSON shape before the structured
// payload is decoded into its typed form.
type wireEntity struct {
	Type            string          `json:"type"`
	Content         string          `json:"content"`
	Confidence      float64         `json:"confidence"`
	SourceQuote     string          `json:"source_quote"`
	SourceSpeaker   string          `json:"source_speaker"`
	SourceTimestamp string          `json:"source_timestamp"`
	StructuredData  json.RawMessage `json:"structured_data"`
}

// decodeEntities converts a stage's JSON output into candidate entities.
// An entity missing its required fields is dropped with a warning; a bad
// structured payload drops only the payload, the fact itself survives.
// Unknown types are kept here: the materializer owns that policy.
func decodeEntities(raw json.RawMessage) ([]types.CandidateEntity, []string, error) {
	var out struct {
		Entities []wireEntity `json:"entities"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, fmt.Errorf("decoding entities: %w", err)
	}

	var entities []types.CandidateEntity
	var warnings []string
	for i, w := range out.Entities {
		e := types.CandidateEntity{
			Type:            types.EntityType(w.Type),
			Content:         w.Content,
			Confidence:      w.Confidence,
			SourceQuote:     w.SourceQuote,
			SourceSpeaker:   w.SourceSpeaker,
			SourceTimestamp: w.SourceTimestamp,
		}
		if err := e.Validate(); err != nil {
			warnings = append(warnings, fmt.Sprintf("dropped entity %d: %v", i, err))
			continue
		}

		structured, err := types.DecodeStructured(e.Type, w.StructuredData)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("entity %d (%s): %v", i, e.Type, err))
		} else {
			e.Structured = structured
		}
		entities = append(entities, e)
	}
	return entities, warnings, nil
}

// runClassification executes stage 1 and persists its output, advancing the
// job to general extraction.
func (o *Orchestrator) runClassification(ctx context.Context, job *types.Job, content string) (bool, error) {
	o.progress(ctx, job, types.StageClassification, "invoking model", "", 0, 0)

	result, err := o.client.Invoke(ctx, &gateway.TaskRequest{
		Kind:   gateway.TaskClassify,
		System: classifySystemPrompt,
		Prompt: classifyPrompt(content),
		Schema: classifySchema,
	})
	if err != nil {
		return false, fmt.Errorf("classification call: %w", err)
	}

	var classification types.ClassificationResult
	if err := json.Unmarshal(result.JSON, &classification); err != nil {
		return false, fmt.Errorf("%w: decoding classification: %v", gateway.ErrMalformed, err)
	}
	if !types.ValidContentType(classification.ContentType) {
		return false, fmt.Errorf("%w: unknown content type %q", gateway.ErrMalformed, classification.ContentType)
	}

	o.progress(ctx, job, types.StageClassification, "quality gate", string(classification.ContentType), 0, 0)
	verdict, err := o.gate.EvaluateClassification(ctx, content, &classification)
	if err != nil {
		return false, fmt.Errorf("classification gate: %w", err)
	}
	review, err := o.applyVerdict(verdict)
	if err != nil {
		return false, err
	}
	classification.Flagged = review

	if err := o.store.SaveClassification(ctx, job.ID, &classification, types.StageGeneralExtraction); err != nil {
		return false, err
	}
	job.Classification = &classification
	job.CurrentStage = types.StageGeneralExtraction
	return review, nil
}

// runGeneralExtraction executes stage 2: the content-type-independent pass.
func (o *Orchestrator) runGeneralExtraction(ctx context.Context, job *types.Job, content string) (bool, error) {
	o.progress(ctx, job, types.StageGeneralExtraction, "invoking model", "", 0, 0)

	vocab := types.GeneralVocabulary()
	result, err := o.client.Invoke(ctx, &gateway.TaskRequest{
		Kind:   gateway.TaskExtract,
		System: extractSystemPrompt,
		Prompt: extractPrompt(content),
		Schema: entitySchema(vocab),
	})
	if err != nil {
		return false, fmt.Errorf("general extraction call: %w", err)
	}

	entities, warnings, err := decodeEntities(result.JSON)
	if err != nil {
		return false, fmt.Errorf("%w: general extraction: %v", gateway.ErrMalformed, err)
	}
	for _, w := range warnings {
		o.logger.Warn("general extraction", "job_id", job.ID, "warning", w)
	}

	o.progress(ctx, job, types.StageGeneralExtraction, "quality gate", "", len(entities), len(entities))
	review, err := o.gateExtraction(ctx, content, entities, vocab, func(ctx context.Context) (*evaluator.Verdict, error) {
		return o.gate.EvaluateExtraction(ctx, content, entities)
	})
	if err != nil {
		return false, err
	}

	stageReview := &types.StageReview{Flagged: review, Warnings: warnings}
	if err := o.store.SaveRawExtraction(ctx, job.ID, entities, stageReview, types.StageSpecializedExtraction); err != nil {
		return false, err
	}
	job.RawExtraction = entities
	job.RawReview = stageReview
	job.CurrentStage = types.StageSpecializedExtraction
	return review, nil
}

// runSpecializedExtraction executes stage 3: the classification-specific
// vocabulary pass whose entities ultimately materialize.
func (o *Orchestrator) runSpecializedExtraction(ctx context.Context, job *types.Job, content string) (bool, error) {
	if job.Classification == nil {
		return false, fmt.Errorf("specialized extraction requires a classification")
	}
	o.progress(ctx, job, types.StageSpecializedExtraction, "invoking model", string(job.Classification.ContentType), 0, 0)

	vocab := types.SpecializedVocabulary(job.Classification.ContentType)
	result, err := o.client.Invoke(ctx, &gateway.TaskRequest{
		Kind:   gateway.TaskSpecialize,
		System: specializeSystemPrompt,
		Prompt: specializePrompt(job.Classification.ContentType, job.RawExtraction, content),
		Schema: entitySchema(vocab),
	})
	if err != nil {
		return false, fmt.Errorf("specialized extraction call: %w", err)
	}

	entities, warnings, err := decodeEntities(result.JSON)
	if err != nil {
		return false, fmt.Errorf("%w: specialized extraction: %v", gateway.ErrMalformed, err)
	}
	for _, w := range warnings {
		o.logger.Warn("specialized extraction", "job_id", job.ID, "warning", w)
	}

	o.progress(ctx, job, types.StageSpecializedExtraction, "quality gate", "", len(entities), len(entities))
	review, err := o.gateExtraction(ctx, content, entities, vocab, func(ctx context.Context) (*evaluator.Verdict, error) {
		return o.gate.EvaluateSpecialized(ctx, content, job.RawExtraction, entities)
	})
	if err != nil {
		return false, err
	}

	stageReview := &types.StageReview{Flagged: review, Warnings: warnings}
	if err := o.store.SaveSpecialized(ctx, job.ID, entities, stageReview, types.StageTabPopulation); err != nil {
		return false, err
	}
	job.Specialized = entities
	job.SpecializedReview = stageReview
	job.CurrentStage = types.StageTabPopulation
	return review, nil
}

// runPopulation executes stage 4: materialize the specialized entities and
// complete the job.
func (o *Orchestrator) runPopulation(ctx context.Context, job *types.Job, reviewFlagged bool) error {
	o.progress(ctx, job, types.StageTabPopulation, "materializing items", "", 0, len(job.Specialized))

	result, err := o.materializer.Materialize(ctx, job, job.Specialized, reviewFlagged)
	if err != nil {
		return fmt.Errorf("materializing items: %w", err)
	}
	result.Warnings = append(stageWarnings(job), result.Warnings...)

	if err := o.store.CompleteJob(ctx, job.ID, result); err != nil {
		return err
	}
	job.Population = result
	job.Status = types.StatusComplete
	return nil
}

// gateExtraction runs the cheap pre-check and, when it passes, the full
// LLM-judge gate. A failed pre-check skips the judges and flags the stage
// for review rather than paying for judge calls on obviously weak output.
func (o *Orchestrator) gateExtraction(ctx context.Context, content string, entities []types.CandidateEntity, vocab []types.EntityType, full func(context.Context) (*evaluator.Verdict, error)) (bool, error) {
	quick := evaluator.QuickEvaluate(avgConfidence(entities), len(entities), checklistCoverage(entities, vocab))
	if !quick.Passed {
		o.logger.Warn("quick evaluation failed, flagging for review", "score", quick.Score, "issues", quick.Issues)
		return true, nil
	}

	verdict, err := full(ctx)
	if err != nil {
		return false, fmt.Errorf("quality gate: %w", err)
	}
	return o.applyVerdict(verdict)
}

// applyVerdict folds a gate verdict into control flow: fail aborts the run,
// review proceeds flagged, pass proceeds clean.
func (o *Orchestrator) applyVerdict(verdict *evaluator.Verdict) (bool, error) {
	switch verdict.Decision {
	case evaluator.DecisionFail:
		return false, fmt.Errorf("quality gate failed (score %.2f): %s", verdict.Score, joinIssues(verdict.Issues))
	case evaluator.DecisionReview:
		return true, nil
	default:
		return false, nil
	}
}

// stageWarnings collects the persisted extraction-stage warnings so the
// population summary surfaces them without log access.
func stageWarnings(job *types.Job) []string {
	var out []string
	if job.RawReview != nil {
		for _, w := range job.RawReview.Warnings {
			out = append(out, "general extraction: "+w)
		}
	}
	if job.SpecializedReview != nil {
		for _, w := range job.SpecializedReview.Warnings {
			out = append(out, "specialized extraction: "+w)
		}
	}
	return out
}

func avgConfidence(entities []types.CandidateEntity) float64 {
	if len(entities) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entities {
		sum += e.Confidence
	}
	return sum / float64(len(entities))
}

// checklistCoverage is the fraction of the stage vocabulary represented in
// the extracted entities.
func checklistCoverage(entities []types.CandidateEntity, vocab []types.EntityType) float64 {
	if len(vocab) == 0 {
		return 0
	}
	present := make(map[types.EntityType]struct{})
	for _, e := range entities {
		present[e.Type] = struct{}{}
	}
	covered := 0
	for _, t := range vocab {
		if _, ok := present[t]; ok {
			covered++
		}
	}
	return float64(covered) / float64(len(vocab))
}

func joinIssues(issues []string) string {
	if len(issues) == 0 {
		return "no issues reported"
	}
	const maxListed = 5
	if len(issues) > maxListed {
		issues = append(issues[:maxListed:maxListed], fmt.Sprintf("and %d more", len(issues)-maxListed))
	}
	out := ""
	for i, iss := range issues {
		if i > 0 {
			out += "; "
		}
		out += iss
	}
	return out
}
