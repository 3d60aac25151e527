package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EntityType is a closed tag from the controlled extraction vocabulary.
type EntityType string

// General extraction vocabulary, shared by every content type.
const (
	EntityStakeholder  EntityType = "STAKEHOLDER"
	EntityGoal         EntityType = "GOAL"
	EntityPainPoint    EntityType = "PAIN_POINT"
	EntityProcessStep  EntityType = "PROCESS_STEP"
	EntityDecision     EntityType = "DECISION"
	EntityOpenQuestion EntityType = "OPEN_QUESTION"
	EntityActionItem   EntityType = "ACTION_ITEM"
)

// Specialized vocabulary, applied per classification tag.
const (
	EntityKPITarget         EntityType = "KPI_TARGET"
	EntitySuccessCriterion  EntityType = "SUCCESS_CRITERION"
	EntityTimelineMilestone EntityType = "TIMELINE_MILESTONE"
	EntityBudgetConstraint  EntityType = "BUDGET_CONSTRAINT"

	EntitySystemIntegration EntityType = "SYSTEM_INTEGRATION"
	EntityDataField         EntityType = "DATA_FIELD"
	EntityAPIEndpoint       EntityType = "API_ENDPOINT"
	EntityAuthRequirement   EntityType = "AUTH_REQUIREMENT"
	EntityVolumeEstimate    EntityType = "VOLUME_ESTIMATE"

	EntityBusinessRule    EntityType = "BUSINESS_RULE"
	EntityGuardrailNever  EntityType = "GUARDRAIL_NEVER"
	EntityGuardrailAlways EntityType = "GUARDRAIL_ALWAYS"
	EntityEscalationPath  EntityType = "ESCALATION_PATH"
	EntityTestCase        EntityType = "TEST_CASE"
)

// Section is the profile section an entity type materializes into.
type Section string

const (
	SectionBusiness  Section = "business"
	SectionTechnical Section = "technical"
)

// sectionByType is the closed mapping from entity type to profile section.
// A type absent here is unmapped: callers drop the entity with a warning
// instead of filing it in the wrong section.
var sectionByType = map[EntityType]Section{
	EntityStakeholder:  SectionBusiness,
	EntityGoal:         SectionBusiness,
	EntityPainPoint:    SectionBusiness,
	EntityProcessStep:  SectionBusiness,
	EntityDecision:     SectionBusiness,
	EntityOpenQuestion: SectionBusiness,
	EntityActionItem:   SectionBusiness,

	EntityKPITarget:         SectionBusiness,
	EntitySuccessCriterion:  SectionBusiness,
	EntityTimelineMilestone: SectionBusiness,
	EntityBudgetConstraint:  SectionBusiness,

	EntitySystemIntegration: SectionTechnical,
	EntityDataField:         SectionTechnical,
	EntityAPIEndpoint:       SectionTechnical,
	EntityAuthRequirement:   SectionTechnical,
	EntityVolumeEstimate:    SectionTechnical,

	EntityBusinessRule:    SectionBusiness,
	EntityGuardrailNever:  SectionBusiness,
	EntityGuardrailAlways: SectionBusiness,
	EntityEscalationPath:  SectionBusiness,
	EntityTestCase:        SectionTechnical,
}

// SectionFor returns the profile section for an entity type.
// ok is false for unmapped types.
func SectionFor(t EntityType) (Section, bool) {
	s, ok := sectionByType[t]
	return s, ok
}

// ValidEntityType reports whether t appears in the vocabulary registry.
func ValidEntityType(t EntityType) bool {
	_, ok := sectionByType[t]
	return ok
}

// GeneralVocabulary returns the content-type-independent extraction tags.
func GeneralVocabulary() []EntityType {
	return []EntityType{
		EntityStakeholder, EntityGoal, EntityPainPoint, EntityProcessStep,
		EntityDecision, EntityOpenQuestion, EntityActionItem,
	}
}

// SpecializedVocabulary returns the type-specific tags for a classification.
func SpecializedVocabulary(ct ContentType) []EntityType {
	switch ct {
	case ContentKickoffSession:
		return []EntityType{
			EntityGoal, EntityKPITarget, EntitySuccessCriterion,
			EntityTimelineMilestone, EntityBudgetConstraint, EntityStakeholder,
		}
	case ContentTechnicalSession:
		return []EntityType{
			EntitySystemIntegration, EntityDataField, EntityAPIEndpoint,
			EntityAuthRequirement, EntityVolumeEstimate, EntityProcessStep,
		}
	case ContentRequirementsDocument:
		return []EntityType{
			EntityBusinessRule, EntityGuardrailNever, EntityGuardrailAlways,
			EntityEscalationPath, EntityTestCase, EntityDataField,
		}
	}
	return nil
}

// StructuredData is the type-dependent payload attached to an entity.
// Exactly one field is non-nil, matching the entity's type. Types without a
// structured shape carry none.
type StructuredData struct {
	Integration  *IntegrationData  `json:"integration,omitempty"`
	DataField    *DataFieldData    `json:"data_field,omitempty"`
	KPITarget    *KPITargetData    `json:"kpi_target,omitempty"`
	BusinessRule *BusinessRuleData `json:"business_rule,omitempty"`
	TestCase     *TestCaseData     `json:"test_case,omitempty"`
}

// IntegrationData describes a SYSTEM_INTEGRATION entity.
type IntegrationData struct {
	SystemName string `json:"system_name"`
	Direction  string `json:"direction,omitempty"` // inbound, outbound, bidirectional
	Protocol   string `json:"protocol,omitempty"`
	Cadence    string `json:"cadence,omitempty"`
}

// DataFieldData describes a DATA_FIELD entity.
type DataFieldData struct {
	FieldName string `json:"field_name"`
	DataType  string `json:"data_type,omitempty"`
	Required  bool   `json:"required,omitempty"`
	Source    string `json:"source,omitempty"`
}

// KPITargetData describes a KPI_TARGET entity.
type KPITargetData struct {
	Metric   string `json:"metric"`
	Target   string `json:"target,omitempty"`
	Deadline string `json:"deadline,omitempty"`
}

// BusinessRuleData describes a BUSINESS_RULE entity.
type BusinessRuleData struct {
	Condition string `json:"condition"`
	Action    string `json:"action,omitempty"`
	Exception string `json:"exception,omitempty"`
}

// TestCaseData describes a TEST_CASE entity.
type TestCaseData struct {
	Scenario string `json:"scenario"`
	Expected string `json:"expected,omitempty"`
}

// DecodeStructured parses the raw structured payload for an entity type.
// Types without a structured shape return nil without error. The switch is
// exhaustive over shaped types: adding a payload struct without extending it
// is caught in code review, not at runtime.
func DecodeStructured(t EntityType, raw json.RawMessage) (*StructuredData, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch t {
	case EntitySystemIntegration:
		var d IntegrationData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decoding integration data: %w", err)
		}
		return &StructuredData{Integration: &d}, nil
	case EntityDataField:
		var d DataFieldData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decoding data field data: %w", err)
		}
		return &StructuredData{DataField: &d}, nil
	case EntityKPITarget:
		var d KPITargetData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decoding kpi target data: %w", err)
		}
		return &StructuredData{KPITarget: &d}, nil
	case EntityBusinessRule, EntityGuardrailNever, EntityGuardrailAlways:
		var d BusinessRuleData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decoding business rule data: %w", err)
		}
		return &StructuredData{BusinessRule: &d}, nil
	case EntityTestCase:
		var d TestCaseData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decoding test case data: %w", err)
		}
		return &StructuredData{TestCase: &d}, nil
	}
	return nil, nil
}

// CandidateEntity is an atomic fact proposed by an extraction stage, before
// materialization.
type CandidateEntity struct {
	Type       EntityType `json:"type"`
	Content    string     `json:"content"`
	Confidence float64    `json:"confidence"`

	// Provenance
	SourceQuote     string `json:"source_quote,omitempty"`
	SourceSpeaker   string `json:"source_speaker,omitempty"`
	SourceTimestamp string `json:"source_timestamp,omitempty"`

	Structured *StructuredData `json:"structured_data,omitempty"`
}

// Validate reports whether the entity carries the minimum required fields.
// Entities failing this are dropped with a warning, never coerced.
func (e *CandidateEntity) Validate() error {
	if strings.TrimSpace(string(e.Type)) == "" {
		return fmt.Errorf("entity missing type")
	}
	if strings.TrimSpace(e.Content) == "" {
		return fmt.Errorf("entity %s missing content", e.Type)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("entity %s confidence %v out of range", e.Type, e.Confidence)
	}
	return nil
}

// ItemStatus is the review state of a materialized item.
type ItemStatus string

const (
	ItemPending  ItemStatus = "PENDING"
	ItemApproved ItemStatus = "APPROVED"
	ItemRejected ItemStatus = "REJECTED"
)

// ApproveThreshold is the confidence at or above which a materialized item
// is auto-approved. The boundary is inclusive: exactly 0.8 approves.
const ApproveThreshold = 0.8

// Item is a durable, review-tracked record derived from a Candidate Entity.
type Item struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	Type       EntityType `json:"type"`
	Section    Section    `json:"section"`
	Content    string     `json:"content"`
	Confidence float64    `json:"confidence"`
	Status     ItemStatus `json:"status"`

	SourceQuote     string `json:"source_quote,omitempty"`
	SourceSpeaker   string `json:"source_speaker,omitempty"`
	SourceTimestamp string `json:"source_timestamp,omitempty"`

	Structured *StructuredData `json:"structured_data,omitempty"`

	// Edited marks human review changes; regeneration preserves edited items.
	Edited    bool   `json:"edited,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}
