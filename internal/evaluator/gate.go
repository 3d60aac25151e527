package evaluator

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/intake/internal/gateway"
	"github.com/jackzampolin/intake/internal/types"
)

// Judge weights for the aggregate score. Stages that run a subset of judges
// renormalize over the judges present.
const (
	weightClassification = 0.20
	weightHallucination  = 0.35
	weightCoverage       = 0.25
	weightConsistency    = 0.20
)

// Gate evaluates stage outputs. LLM-backed judges run concurrently; local
// judges run alongside them in the same group.
type Gate struct {
	client gateway.Client
	th     Thresholds
	logger *slog.Logger
}

// NewGate creates a quality gate using the given judge client.
func NewGate(client gateway.Client, th Thresholds, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{client: client, th: th.withDefaults(), logger: logger}
}

// judgeRun is one judge's contribution to a stage verdict.
type judgeRun struct {
	name      string
	weight    float64
	threshold float64
	run       func(ctx context.Context) (float64, []string, error)
}

// EvaluateClassification gates the stage-1 output: the model judge's
// agreement combined with the reported confidence itself.
func (g *Gate) EvaluateClassification(ctx context.Context, content string, result *types.ClassificationResult) (*Verdict, error) {
	judges := []judgeRun{
		{
			name:      "classification",
			weight:    weightClassification,
			threshold: g.th.ClassificationConfidence,
			run: func(ctx context.Context) (float64, []string, error) {
				return judgeClassification(ctx, g.client, content, result)
			},
		},
		{
			name:      "reported_confidence",
			weight:    weightClassification,
			threshold: g.th.ClassificationConfidence,
			run: func(context.Context) (float64, []string, error) {
				return result.Confidence, nil, nil
			},
		},
	}
	return g.aggregate(ctx, types.StageClassification, judges)
}

// EvaluateExtraction gates the stage-2 output: provenance verification plus
// a coverage estimate.
func (g *Gate) EvaluateExtraction(ctx context.Context, content string, entities []types.CandidateEntity) (*Verdict, error) {
	judges := []judgeRun{
		{
			name:      "hallucination",
			weight:    weightHallucination,
			threshold: 1 - g.th.MaxHallucinationRate,
			run: func(context.Context) (float64, []string, error) {
				score, issues := judgeHallucination(content, entities)
				return score, issues, nil
			},
		},
		{
			name:      "coverage",
			weight:    weightCoverage,
			threshold: g.th.MinCoverage,
			run: func(ctx context.Context) (float64, []string, error) {
				return judgeCoverage(ctx, g.client, content, entities)
			},
		},
	}
	return g.aggregate(ctx, types.StageGeneralExtraction, judges)
}

// EvaluateSpecialized gates the stage-3 output: provenance, coverage, and
// traceability back to the general extraction.
func (g *Gate) EvaluateSpecialized(ctx context.Context, content string, general, specialized []types.CandidateEntity) (*Verdict, error) {
	judges := []judgeRun{
		{
			name:      "hallucination",
			weight:    weightHallucination,
			threshold: 1 - g.th.MaxHallucinationRate,
			run: func(context.Context) (float64, []string, error) {
				score, issues := judgeHallucination(content, specialized)
				return score, issues, nil
			},
		},
		{
			name:      "coverage",
			weight:    weightCoverage,
			threshold: g.th.MinCoverage,
			run: func(ctx context.Context) (float64, []string, error) {
				return judgeCoverage(ctx, g.client, content, specialized)
			},
		},
		{
			name:      "consistency",
			weight:    weightConsistency,
			threshold: g.th.MinStageAlignment,
			run: func(context.Context) (float64, []string, error) {
				score, issues := judgeConsistency(general, specialized)
				return score, issues, nil
			},
		},
	}
	return g.aggregate(ctx, types.StageSpecializedExtraction, judges)
}

// aggregate runs the judges concurrently and folds their scores into a
// weighted verdict. The effective threshold is the same weighted average of
// the per-judge thresholds, so a stage with strict judges stays strict.
func (g *Gate) aggregate(ctx context.Context, stage types.Stage, judges []judgeRun) (*Verdict, error) {
	var mu sync.Mutex
	scores := make(map[string]float64, len(judges))
	var issues []string

	eg, ctx := errgroup.WithContext(ctx)
	for _, j := range judges {
		eg.Go(func() error {
			score, jIssues, err := j.run(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			scores[j.name] = score
			issues = append(issues, jIssues...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var totalWeight, score, threshold float64
	for _, j := range judges {
		totalWeight += j.weight
		score += j.weight * scores[j.name]
		threshold += j.weight * j.threshold
	}
	score /= totalWeight
	threshold /= totalWeight

	verdict := &Verdict{
		Decision:    band(score, threshold, g.th.ReviewMargin),
		Score:       score,
		Issues:      issues,
		JudgeScores: scores,
	}

	g.logger.Info("quality gate verdict",
		"stage", stage,
		"decision", verdict.Decision,
		"score", verdict.Score,
		"threshold", threshold,
		"issues", len(verdict.Issues))
	return verdict, nil
}
