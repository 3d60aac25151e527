package evaluator

import (
	"context"
	"math"
	"testing"

	"github.com/jackzampolin/intake/internal/gateway"
	"github.com/jackzampolin/intake/internal/types"
)

func TestGate_EvaluateClassification(t *testing.T) {
	t.Run("agreeing judge passes", func(t *testing.T) {
		client := gateway.NewMockClient()
		client.Script(gateway.TaskEvaluate, `{"score": 0.95, "issues": [], "missed": []}`)

		gate := NewGate(client, DefaultThresholds(), nil)
		verdict, err := gate.EvaluateClassification(context.Background(), transcript, &types.ClassificationResult{
			ContentType: types.ContentKickoffSession,
			Confidence:  0.85,
		})
		if err != nil {
			t.Fatalf("EvaluateClassification() error = %v", err)
		}
		if verdict.Decision != DecisionPass {
			t.Errorf("Decision = %v, want %v (score %v)", verdict.Decision, DecisionPass, verdict.Score)
		}
		// Equal weights: (0.95 + 0.85) / 2
		if math.Abs(verdict.Score-0.9) > 1e-9 {
			t.Errorf("Score = %v, want 0.9", verdict.Score)
		}
		if verdict.JudgeScores["reported_confidence"] != 0.85 {
			t.Errorf("reported_confidence score = %v, want 0.85", verdict.JudgeScores["reported_confidence"])
		}
	})

	t.Run("disagreeing judge fails", func(t *testing.T) {
		client := gateway.NewMockClient()
		client.Script(gateway.TaskEvaluate, `{"score": 0.1, "issues": ["reads like a requirements document"], "missed": []}`)

		gate := NewGate(client, DefaultThresholds(), nil)
		verdict, err := gate.EvaluateClassification(context.Background(), transcript, &types.ClassificationResult{
			ContentType: types.ContentKickoffSession,
			Confidence:  0.75,
		})
		if err != nil {
			t.Fatalf("EvaluateClassification() error = %v", err)
		}
		// (0.1 + 0.75) / 2 = 0.425, well below 0.70 - 0.15
		if verdict.Decision != DecisionFail {
			t.Errorf("Decision = %v, want %v (score %v)", verdict.Decision, DecisionFail, verdict.Score)
		}
		if len(verdict.Issues) != 1 {
			t.Errorf("Issues = %v, want the judge's issue carried through", verdict.Issues)
		}
	})

	t.Run("judge error propagates", func(t *testing.T) {
		client := gateway.NewMockClient()
		client.FailKind(gateway.TaskEvaluate, gateway.ErrTimeout)

		gate := NewGate(client, DefaultThresholds(), nil)
		if _, err := gate.EvaluateClassification(context.Background(), transcript, &types.ClassificationResult{
			ContentType: types.ContentKickoffSession,
			Confidence:  0.85,
		}); err == nil {
			t.Error("expected error from failing judge")
		}
	})
}

func TestGate_EvaluateExtraction(t *testing.T) {
	entities := []types.CandidateEntity{
		entity(types.EntityGoal, "Reduce onboarding time", "reducing onboarding time from two weeks to three days", "Sarah"),
		entity(types.EntitySystemIntegration, "Salesforce sync", "sync with Salesforce nightly", "Mike"),
	}

	t.Run("clean extraction passes", func(t *testing.T) {
		client := gateway.NewMockClient()
		client.Script(gateway.TaskEvaluate, `{"score": 0.9, "issues": [], "missed": []}`)

		gate := NewGate(client, DefaultThresholds(), nil)
		verdict, err := gate.EvaluateExtraction(context.Background(), transcript, entities)
		if err != nil {
			t.Fatalf("EvaluateExtraction() error = %v", err)
		}
		if verdict.Decision != DecisionPass {
			t.Errorf("Decision = %v, want %v (score %v)", verdict.Decision, DecisionPass, verdict.Score)
		}
		if verdict.JudgeScores["hallucination"] != 1 {
			t.Errorf("hallucination score = %v, want 1", verdict.JudgeScores["hallucination"])
		}
	})

	t.Run("coverage judge missed entries become issues", func(t *testing.T) {
		client := gateway.NewMockClient()
		client.Script(gateway.TaskEvaluate, `{"score": 0.7, "issues": [], "missed": ["budget constraint from Sarah"]}`)

		gate := NewGate(client, DefaultThresholds(), nil)
		verdict, err := gate.EvaluateExtraction(context.Background(), transcript, entities)
		if err != nil {
			t.Fatalf("EvaluateExtraction() error = %v", err)
		}
		found := false
		for _, iss := range verdict.Issues {
			if iss == "missed: budget constraint from Sarah" {
				found = true
			}
		}
		if !found {
			t.Errorf("Issues = %v, want missed entry surfaced", verdict.Issues)
		}
	})
}

func TestGate_EvaluateSpecialized(t *testing.T) {
	general := []types.CandidateEntity{
		entity(types.EntityGoal, "Reduce onboarding time to three days", "reducing onboarding time from two weeks to three days", "Sarah"),
	}
	specialized := []types.CandidateEntity{
		entity(types.EntityKPITarget, "Onboarding reduced to three days", "reducing onboarding time from two weeks to three days", "Sarah"),
	}

	client := gateway.NewMockClient()
	client.Script(gateway.TaskEvaluate, `{"score": 0.85, "issues": [], "missed": []}`)

	gate := NewGate(client, DefaultThresholds(), nil)
	verdict, err := gate.EvaluateSpecialized(context.Background(), transcript, general, specialized)
	if err != nil {
		t.Fatalf("EvaluateSpecialized() error = %v", err)
	}
	if verdict.Decision != DecisionPass {
		t.Errorf("Decision = %v, want %v (score %v)", verdict.Decision, DecisionPass, verdict.Score)
	}
	for _, name := range []string{"hallucination", "coverage", "consistency"} {
		if _, ok := verdict.JudgeScores[name]; !ok {
			t.Errorf("JudgeScores missing %q: %v", name, verdict.JudgeScores)
		}
	}
}
