package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/intake/internal/types"
)

// maxPromptContent bounds how much source content a single stage prompt
// carries. Longer documents are truncated; extraction quality on truncated
// content is the coverage judge's problem to flag.
const maxPromptContent = 48000

const classifySystemPrompt = `You classify client onboarding documents for an extraction pipeline. You are given raw document content and must assign exactly one content type. Be honest about ambiguity: report lower confidence rather than guessing confidently. Respond with JSON only.`

var classifySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"content_type": {
			"type": "string",
			"enum": ["kickoff_session", "technical_session", "requirements_document"]
		},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"indicators": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["content_type", "confidence", "indicators"],
	"additionalProperties": false
}`)

func classifyPrompt(content string) string {
	return fmt.Sprintf(`Classify this document as one of:
- kickoff_session: a project kickoff meeting (goals, stakeholders, timelines, budgets)
- technical_session: a technical working session (systems, integrations, data fields, APIs)
- requirements_document: a written requirements or rules document

List the key indicator phrases that drove your decision.

Document:
%s`, truncateContent(content))
}

const extractSystemPrompt = `You extract atomic facts from client onboarding documents. Every entity must quote the exact source text it came from and name the speaker when the source is a transcript. Never invent facts that are not in the source. Respond with JSON only.`

// entitySchema builds the structured-output schema for an extraction stage,
// restricting the type field to the given vocabulary.
func entitySchema(vocab []types.EntityType) json.RawMessage {
	tags := make([]string, len(vocab))
	for i, t := range vocab {
		tags[i] = string(t)
	}
	enum, _ := json.Marshal(tags)

	schema := fmt.Sprintf(`{
	"type": "object",
	"properties": {
		"entities": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"type": {"type": "string", "enum": %s},
					"content": {"type": "string"},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"source_quote": {"type": "string"},
					"source_speaker": {"type": "string"},
					"source_timestamp": {"type": "string"},
					"structured_data": {"type": ["object", "null"]}
				},
				"required": ["type", "content", "confidence"]
			}
		}
	},
	"required": ["entities"],
	"additionalProperties": false
}`, enum)
	return json.RawMessage(schema)
}

func extractPrompt(content string) string {
	return fmt.Sprintf(`Extract every atomic fact from this document as an entity. Allowed types:
%s

For each entity provide the exact source quote, and the speaker and timestamp when the source is a transcript. Confidence reflects how directly the source supports the fact.

Document:
%s`, vocabList(types.GeneralVocabulary()), truncateContent(content))
}

const specializeSystemPrompt = `You re-extract facts from client onboarding documents using a specialized vocabulary for the document's content type. Every entity must quote the exact source text. Populate structured_data with the typed sub-fields where the vocabulary defines them. Respond with JSON only.`

func specializePrompt(ct types.ContentType, general []types.CandidateEntity, content string) string {
	var prior strings.Builder
	for _, e := range general {
		fmt.Fprintf(&prior, "- [%s] %s\n", e.Type, e.Content)
	}

	return fmt.Sprintf(`This document was classified as %s. Re-extract using the specialized vocabulary:
%s

Structured sub-fields by type:
- SYSTEM_INTEGRATION: {"system_name", "direction", "protocol", "cadence"}
- DATA_FIELD: {"field_name", "data_type", "required", "source"}
- KPI_TARGET: {"metric", "target", "deadline"}
- BUSINESS_RULE / GUARDRAIL_NEVER / GUARDRAIL_ALWAYS: {"condition", "action", "exception"}
- TEST_CASE: {"scenario", "expected"}

The general extraction pass already found these facts; your entities should be traceable back to them:
%s
Document:
%s`, ct, vocabList(types.SpecializedVocabulary(ct)), prior.String(), truncateContent(content))
}

func vocabList(vocab []types.EntityType) string {
	var b strings.Builder
	for _, t := range vocab {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	return b.String()
}

func truncateContent(content string) string {
	if len(content) <= maxPromptContent {
		return content
	}
	return content[:maxPromptContent] + "\n[content truncated]"
}
