// Package gateway abstracts the model calls the extraction pipeline depends
// on. The gateway is treated as an untrusted, slow, occasionally-malformed
// external dependency: every result is schema-validated before it is
// returned, and failures are classified so callers can log them apart.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// TaskKind identifies the capability a stage is asking for.
type TaskKind string

const (
	TaskClassify   TaskKind = "classify"
	TaskExtract    TaskKind = "extract"
	TaskSpecialize TaskKind = "specialize"
	TaskEvaluate   TaskKind = "evaluate"
)

// Error kinds. The orchestrator treats all of these as "stage failed" but
// logs and records them as distinguishable cases.
var (
	// ErrTimeout indicates the provider did not answer within the deadline.
	ErrTimeout = errors.New("gateway timeout")

	// ErrMalformed indicates the provider answered but the payload could not
	// be parsed or did not validate against the requested schema.
	ErrMalformed = errors.New("malformed gateway response")

	// ErrProvider indicates an upstream provider failure (5xx, auth, empty
	// response).
	ErrProvider = errors.New("gateway provider failure")

	// ErrRateLimited indicates the provider rejected the call with 429 after
	// retries were exhausted.
	ErrRateLimited = errors.New("gateway rate limited")
)

// TaskRequest describes one model invocation.
type TaskRequest struct {
	Kind   TaskKind
	System string // System prompt
	Prompt string // User prompt, already carrying the source content

	// Schema is a JSON Schema hint for structured output. When set, the
	// result's JSON field is guaranteed to validate against it.
	Schema json.RawMessage

	// Model overrides the client default when non-empty.
	Model string

	Temperature float64
	MaxTokens   int

	// Timeout bounds this single call (default: client timeout).
	Timeout time.Duration
}

// TaskResult is a typed result from a gateway call.
type TaskResult struct {
	Content string          `json:"content"`
	JSON    json.RawMessage `json:"json,omitempty"` // Parsed+validated when Schema was set

	Model            string        `json:"model"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Duration         time.Duration `json:"duration"`
	Attempts         int           `json:"attempts"`
}

// Client is the primary interface the pipeline invokes.
type Client interface {
	// Invoke executes a task. It must respect context cancellation and
	// return one of the gateway error kinds (wrapped) on failure.
	Invoke(ctx context.Context, req *TaskRequest) (*TaskResult, error)

	// Name returns the client identifier (e.g. "openai").
	Name() string
}

// CallRecord is one audited gateway invocation.
type CallRecord struct {
	Gateway          string
	Model            string
	Kind             TaskKind
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
	Attempts         int
	ErrorKind        string // Empty on success
}

// CallRecorder receives an audit record per gateway invocation.
// Implementations must not block the calling goroutine.
type CallRecorder interface {
	Record(ctx context.Context, rec CallRecord)
}

// ErrorKind maps a gateway error to its taxonomy label for logging and call
// auditing. Unrecognized errors are reported as provider failures.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "provider"
	}
}
