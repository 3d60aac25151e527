package evaluator

import (
	"strings"
	"testing"

	"github.com/jackzampolin/intake/internal/types"
)

const transcript = `Sarah: Our main goal is reducing onboarding time from two weeks to three days.
Mike: The billing system needs to sync with Salesforce nightly.
Sarah: We should never auto-email a client without account manager approval.`

func entity(typ types.EntityType, content, quote, speaker string) types.CandidateEntity {
	return types.CandidateEntity{
		Type:          typ,
		Content:       content,
		Confidence:    0.9,
		SourceQuote:   quote,
		SourceSpeaker: speaker,
	}
}

func TestJudgeHallucination(t *testing.T) {
	t.Run("all quotes verified", func(t *testing.T) {
		entities := []types.CandidateEntity{
			entity(types.EntityGoal, "Reduce onboarding time", "reducing onboarding time from two weeks to three days", "Sarah"),
			entity(types.EntitySystemIntegration, "Salesforce sync", "sync with Salesforce nightly", "Mike"),
		}
		score, issues := judgeHallucination(transcript, entities)
		if score != 1 {
			t.Errorf("score = %v, want 1", score)
		}
		if len(issues) != 0 {
			t.Errorf("issues = %v, want none", issues)
		}
	})

	t.Run("fabricated quote counted", func(t *testing.T) {
		entities := []types.CandidateEntity{
			entity(types.EntityGoal, "Reduce onboarding time", "reducing onboarding time from two weeks to three days", "Sarah"),
			entity(types.EntityGoal, "Invented", "we will migrate everything to kubernetes", "Sarah"),
		}
		score, issues := judgeHallucination(transcript, entities)
		if score != 0.5 {
			t.Errorf("score = %v, want 0.5", score)
		}
		if len(issues) != 1 || !strings.Contains(issues[0], "quote not found") {
			t.Errorf("issues = %v, want one quote-not-found issue", issues)
		}
	})

	t.Run("unknown speaker counted", func(t *testing.T) {
		entities := []types.CandidateEntity{
			entity(types.EntityGoal, "Goal", "reducing onboarding time", "Dave"),
		}
		score, issues := judgeHallucination(transcript, entities)
		if score != 0 {
			t.Errorf("score = %v, want 0", score)
		}
		if len(issues) != 1 || !strings.Contains(issues[0], "speaker") {
			t.Errorf("issues = %v, want one speaker issue", issues)
		}
	})

	t.Run("quote matching ignores case and spacing", func(t *testing.T) {
		entities := []types.CandidateEntity{
			entity(types.EntityGoal, "Goal", "Reducing  Onboarding   Time", ""),
		}
		score, _ := judgeHallucination(transcript, entities)
		if score != 1 {
			t.Errorf("score = %v, want 1", score)
		}
	})

	t.Run("no quoted entities scores perfect", func(t *testing.T) {
		entities := []types.CandidateEntity{
			entity(types.EntityGoal, "Inferred goal", "", ""),
		}
		score, issues := judgeHallucination(transcript, entities)
		if score != 1 || issues != nil {
			t.Errorf("got (%v, %v), want (1, nil)", score, issues)
		}
	})
}

func TestJudgeConsistency(t *testing.T) {
	general := []types.CandidateEntity{
		entity(types.EntityGoal, "Reduce onboarding time to three days", "reducing onboarding time from two weeks to three days", "Sarah"),
		entity(types.EntityProcessStep, "Nightly billing sync with Salesforce", "sync with Salesforce nightly", "Mike"),
	}

	t.Run("traceable by shared quote", func(t *testing.T) {
		specialized := []types.CandidateEntity{
			entity(types.EntityKPITarget, "Onboarding in three days", "reducing onboarding time from two weeks to three days", "Sarah"),
		}
		score, issues := judgeConsistency(general, specialized)
		if score != 1 {
			t.Errorf("score = %v, want 1", score)
		}
		if len(issues) != 0 {
			t.Errorf("issues = %v, want none", issues)
		}
	})

	t.Run("traceable by content overlap", func(t *testing.T) {
		specialized := []types.CandidateEntity{
			entity(types.EntitySystemIntegration, "Salesforce billing sync runs nightly", "", ""),
		}
		score, _ := judgeConsistency(general, specialized)
		if score != 1 {
			t.Errorf("score = %v, want 1", score)
		}
	})

	t.Run("orphan flagged", func(t *testing.T) {
		specialized := []types.CandidateEntity{
			entity(types.EntityKPITarget, "Onboarding in three days", "reducing onboarding time from two weeks to three days", ""),
			entity(types.EntityAuthRequirement, "SAML everywhere", "", ""),
		}
		score, issues := judgeConsistency(general, specialized)
		if score != 0.5 {
			t.Errorf("score = %v, want 0.5", score)
		}
		if len(issues) != 1 || !strings.Contains(issues[0], "orphan") {
			t.Errorf("issues = %v, want one orphan issue", issues)
		}
	})

	t.Run("specialized blowup flagged", func(t *testing.T) {
		one := []types.CandidateEntity{general[0]}
		var specialized []types.CandidateEntity
		for i := 0; i < 3; i++ {
			specialized = append(specialized, entity(types.EntityKPITarget, "Onboarding time reduced to three days", "reducing onboarding time from two weeks to three days", ""))
		}
		_, issues := judgeConsistency(one, specialized)
		found := false
		for _, iss := range issues {
			if strings.Contains(iss, "far exceeds") {
				found = true
			}
		}
		if !found {
			t.Errorf("issues = %v, want a count-imbalance issue", issues)
		}
	})

	t.Run("empty specialized scores perfect", func(t *testing.T) {
		score, issues := judgeConsistency(general, nil)
		if score != 1 || issues != nil {
			t.Errorf("got (%v, %v), want (1, nil)", score, issues)
		}
	})
}

func TestOverlap(t *testing.T) {
	a := significantWords("salesforce billing sync nightly")
	b := significantWords("nightly billing sync with salesforce")
	if got := overlap(a, b); got != 1 {
		t.Errorf("overlap = %v, want 1", got)
	}

	c := significantWords("kubernetes migration plan")
	if got := overlap(c, b); got != 0 {
		t.Errorf("overlap = %v, want 0", got)
	}
}
