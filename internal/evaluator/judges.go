package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/intake/internal/gateway"
	"github.com/jackzampolin/intake/internal/types"
)

// maxJudgeExcerpt bounds how much source content is sent to an LLM judge.
const maxJudgeExcerpt = 8000

// judgeResponse is the structured output shape shared by the LLM judges.
type judgeResponse struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues"`
	Missed []string `json:"missed,omitempty"`
}

var judgeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"score": {"type": "number", "minimum": 0, "maximum": 1},
		"issues": {"type": "array", "items": {"type": "string"}},
		"missed": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["score", "issues", "missed"],
	"additionalProperties": false
}`)

const judgeSystemPrompt = `You are a strict quality evaluator for a document extraction pipeline. Score from 0.0 (unusable) to 1.0 (excellent). List concrete issues; leave arrays empty when there are none. Respond with JSON only.`

// judgeClassification asks the model whether the assigned content type
// matches the excerpt and whether the reported confidence is appropriate.
func judgeClassification(ctx context.Context, client gateway.Client, content string, result *types.ClassificationResult) (float64, []string, error) {
	prompt := fmt.Sprintf(`A document was classified as %q with confidence %.2f.

Judge whether that content type matches the excerpt below, and whether the confidence is appropriate (penalize overconfidence on ambiguous content). Score 1.0 for a clearly correct classification with well-calibrated confidence.

Excerpt:
%s`, result.ContentType, result.Confidence, excerpt(content))

	return invokeJudge(ctx, client, prompt)
}

// judgeCoverage asks the model what fraction of extractable facts were
// captured, listing clearly-missed entities.
func judgeCoverage(ctx context.Context, client gateway.Client, content string, entities []types.CandidateEntity) (float64, []string, error) {
	var listed strings.Builder
	for _, e := range entities {
		fmt.Fprintf(&listed, "- [%s] %s\n", e.Type, e.Content)
	}

	prompt := fmt.Sprintf(`The entities below were extracted from the source excerpt. Estimate what fraction of the extractable facts were actually captured (score = that fraction) and list clearly-missed entities in "missed".

Extracted entities:
%s
Source excerpt:
%s`, listed.String(), excerpt(content))

	return invokeJudge(ctx, client, prompt)
}

func invokeJudge(ctx context.Context, client gateway.Client, prompt string) (float64, []string, error) {
	result, err := client.Invoke(ctx, &gateway.TaskRequest{
		Kind:   gateway.TaskEvaluate,
		System: judgeSystemPrompt,
		Prompt: prompt,
		Schema: judgeSchema,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("invoking judge: %w", err)
	}

	var resp judgeResponse
	if err := json.Unmarshal(result.JSON, &resp); err != nil {
		return 0, nil, fmt.Errorf("%w: decoding judge response: %v", gateway.ErrMalformed, err)
	}
	if resp.Score < 0 {
		resp.Score = 0
	}
	if resp.Score > 1 {
		resp.Score = 1
	}

	issues := resp.Issues
	for _, m := range resp.Missed {
		issues = append(issues, "missed: "+m)
	}
	return resp.Score, issues, nil
}

// judgeHallucination verifies each entity's provenance against the source:
// the quoted text must actually appear in the content and the attributed
// speaker must be named somewhere in it. Entities without a quote are not
// checked. Score is 1 minus the hallucination rate.
func judgeHallucination(content string, entities []types.CandidateEntity) (float64, []string) {
	normalized := normalizeText(content)

	checked, hallucinated := 0, 0
	var issues []string
	for _, e := range entities {
		if e.SourceQuote == "" {
			continue
		}
		checked++

		if !strings.Contains(normalized, normalizeText(e.SourceQuote)) {
			hallucinated++
			issues = append(issues, fmt.Sprintf("quote not found in source for %s: %q", e.Type, truncate(e.SourceQuote, 80)))
			continue
		}
		if e.SourceSpeaker != "" && !strings.Contains(normalized, normalizeText(e.SourceSpeaker)) {
			hallucinated++
			issues = append(issues, fmt.Sprintf("speaker %q not present in source for %s", e.SourceSpeaker, e.Type))
		}
	}

	if checked == 0 {
		return 1, nil
	}
	rate := float64(hallucinated) / float64(checked)
	return 1 - rate, issues
}

// judgeConsistency checks that specialized-stage entities trace back to the
// general extraction (no orphans) and that the stage sizes are not wildly
// out of line. Score is the traceable fraction.
func judgeConsistency(general, specialized []types.CandidateEntity) (float64, []string) {
	if len(specialized) == 0 {
		return 1, nil
	}

	var issues []string
	traceable := 0
	for _, s := range specialized {
		if traceableTo(s, general) {
			traceable++
		} else {
			issues = append(issues, fmt.Sprintf("orphan %s entity: %q", s.Type, truncate(s.Content, 80)))
		}
	}

	if len(general) > 0 && len(specialized) > 2*len(general) {
		issues = append(issues, fmt.Sprintf("specialized count %d far exceeds general count %d", len(specialized), len(general)))
	}

	return float64(traceable) / float64(len(specialized)), issues
}

// traceableTo reports whether a specialized entity plausibly derives from
// any general-stage entity: a shared source quote, or meaningful content
// overlap.
func traceableTo(s types.CandidateEntity, general []types.CandidateEntity) bool {
	sQuote := normalizeText(s.SourceQuote)
	sWords := significantWords(s.Content)

	for _, g := range general {
		if sQuote != "" && sQuote == normalizeText(g.SourceQuote) {
			return true
		}
		gWords := significantWords(g.Content)
		if overlap(sWords, gWords) >= 0.3 {
			return true
		}
	}
	return false
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func significantWords(s string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) >= 4 {
			words[w] = struct{}{}
		}
	}
	return words
}

// overlap returns the fraction of a's words also present in b.
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a))
}

func excerpt(content string) string {
	return truncate(content, maxJudgeExcerpt)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
