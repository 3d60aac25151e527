// Package evaluator implements the quality gate that sits between pipeline
// stages. Each stage's output is scored by a set of independent judges;
// the aggregate decides whether the run proceeds, proceeds flagged for
// review, or aborts.
package evaluator

// Decision is the gate's outcome for a stage.
type Decision string

const (
	DecisionPass   Decision = "pass"
	DecisionReview Decision = "review"
	DecisionFail   Decision = "fail"
)

// Verdict is the gate's evaluation of one stage's output.
type Verdict struct {
	Decision Decision `json:"decision"`
	Score    float64  `json:"score"`
	Issues   []string `json:"issues,omitempty"`

	// JudgeScores holds each contributing judge's raw score.
	JudgeScores map[string]float64 `json:"judge_scores,omitempty"`
}

// Thresholds configures the gate. Zero values fall back to defaults.
type Thresholds struct {
	// ClassificationConfidence is the minimum acceptable stage-1 score.
	ClassificationConfidence float64

	// MaxHallucinationRate is the tolerated fraction of entities whose
	// provenance does not check out against the source.
	MaxHallucinationRate float64

	// MinCoverage is the minimum fraction of extractable facts captured.
	MinCoverage float64

	// MinStageAlignment is the minimum fraction of specialized entities
	// traceable back to the general extraction.
	MinStageAlignment float64

	// ReviewMargin is how far below a threshold a score may land and still
	// produce review instead of fail.
	ReviewMargin float64
}

// DefaultThresholds returns the stock gate configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ClassificationConfidence: 0.70,
		MaxHallucinationRate:     0.03,
		MinCoverage:              0.75,
		MinStageAlignment:        0.80,
		ReviewMargin:             0.15,
	}
}

// withDefaults fills in zero-valued fields.
func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.ClassificationConfidence <= 0 {
		t.ClassificationConfidence = d.ClassificationConfidence
	}
	if t.MaxHallucinationRate <= 0 {
		t.MaxHallucinationRate = d.MaxHallucinationRate
	}
	if t.MinCoverage <= 0 {
		t.MinCoverage = d.MinCoverage
	}
	if t.MinStageAlignment <= 0 {
		t.MinStageAlignment = d.MinStageAlignment
	}
	if t.ReviewMargin <= 0 {
		t.ReviewMargin = d.ReviewMargin
	}
	return t
}

// band maps a score onto the two-band gating policy: at or above the
// threshold passes, within the margin below it is review, anything further
// below fails.
func band(score, threshold, margin float64) Decision {
	switch {
	case score >= threshold:
		return DecisionPass
	case score >= threshold-margin:
		return DecisionReview
	default:
		return DecisionFail
	}
}
