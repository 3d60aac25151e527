package evaluator

import "fmt"

// QuickResult is the outcome of the cheap pre-check that runs before any
// LLM judge is invoked.
type QuickResult struct {
	Passed bool     `json:"passed"`
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// QuickEvaluate combines three raw signals into a pass/fail short-circuit:
// stage confidence, how many entities were extracted, and what fraction of
// the content-type checklist was covered. Each weak signal contributes its
// own issue; the check passes only when no signal is weak.
func QuickEvaluate(confidence float64, entityCount int, checklistCoverage float64) QuickResult {
	var issues []string

	if confidence < 0.6 {
		issues = append(issues, fmt.Sprintf("low confidence: %.2f", confidence))
	}
	if entityCount < 5 {
		issues = append(issues, fmt.Sprintf("too few entities extracted: %d", entityCount))
	}
	if checklistCoverage < 0.5 {
		issues = append(issues, fmt.Sprintf("low checklist coverage: %.2f", checklistCoverage))
	}

	countSignal := float64(entityCount) / 10
	if countSignal > 1 {
		countSignal = 1
	}
	score := 0.5*confidence + 0.2*countSignal + 0.3*checklistCoverage

	return QuickResult{
		Passed: len(issues) == 0,
		Score:  score,
		Issues: issues,
	}
}

// Confidence gate recommendations.
const (
	RecommendAutoApprove  = "auto-approve"
	RecommendReviewOption = "acceptable, review optional"
	RecommendNeedsReview  = "needs review"
	RecommendReclassify   = "likely misclassified, re-classify"
)

// GateCheck is the result of the synchronous per-item confidence gate.
type GateCheck struct {
	Passed         bool    `json:"passed"`
	Confidence     float64 `json:"confidence"`
	Threshold      float64 `json:"threshold"`
	Recommendation string  `json:"recommendation"`
}

// CheckConfidenceGate applies the cheap per-item confidence bands. The
// threshold defaults to 0.7 when omitted.
func CheckConfidenceGate(confidence float64, threshold ...float64) GateCheck {
	th := 0.7
	if len(threshold) > 0 && threshold[0] > 0 {
		th = threshold[0]
	}

	check := GateCheck{Confidence: confidence, Threshold: th}
	switch {
	case confidence < 0.4:
		check.Recommendation = RecommendReclassify
	case confidence >= 0.9:
		check.Passed = true
		check.Recommendation = RecommendAutoApprove
	case confidence >= th:
		check.Passed = true
		check.Recommendation = RecommendReviewOption
	default:
		check.Recommendation = RecommendNeedsReview
	}
	return check
}
