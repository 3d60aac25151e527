package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// OpenAIName identifies the OpenAI-backed gateway client.
	OpenAIName = "openai"

	openAIDefaultModel   = "gpt-4o-mini"
	openAIDefaultTimeout = 300 * time.Second
)

// OpenAIConfig holds configuration for the OpenAI gateway client.
type OpenAIConfig struct {
	APIKey     string
	Model      string        // Default model (default: gpt-4o-mini)
	BaseURL    string        // Optional OpenAI-compatible host override
	RateLimit  float64       // Requests per second
	MaxRetries int           // Transport retry attempts for transient errors
	Timeout    time.Duration // Per-call deadline
	HTTPClient *http.Client  // Optional (tests)

	// Recorder receives an audit record per invocation (optional).
	Recorder CallRecorder
}

// OpenAIClient implements Client using the official OpenAI SDK.
type OpenAIClient struct {
	model      string
	timeout    time.Duration
	maxRetries int
	limiter    *RateLimiter
	recorder   CallRecorder
	client     openai.Client
}

// NewOpenAIClient creates a new OpenAI gateway client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2.0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = openAIDefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// Retries are handled here so the limiter sees every attempt.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		limiter:    NewRateLimiter(cfg.RateLimit),
		recorder:   cfg.Recorder,
		client:     openai.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// LimiterStatus exposes the rate limiter state for status endpoints.
func (c *OpenAIClient) LimiterStatus() RateLimiterStatus {
	return c.limiter.Status()
}

// Invoke executes a task against the OpenAI chat completions API.
// Structured output is parsed and schema-validated before being returned;
// a failed validation triggers a bounded self-repair round before the call
// is reported as malformed.
func (c *OpenAIClient) Invoke(ctx context.Context, req *TaskRequest) (*TaskResult, error) {
	start := time.Now()

	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(req.System),
		openai.UserMessage(req.Prompt),
	}

	result := &TaskResult{Model: model}
	var content string
	var invokeErr error

	// Structured self-repair loop: first round is the real call, subsequent
	// rounds feed the validation issue back to the model.
	for round := 0; ; round++ {
		content, invokeErr = c.complete(ctx, model, messages, req, result)
		if invokeErr != nil {
			break
		}
		result.Content = content

		if len(req.Schema) == 0 {
			break
		}

		parsed, err := parseStructuredJSON(content)
		if err == nil {
			err = validateStructuredJSON(req.Schema, parsed)
		}
		if err == nil {
			result.JSON = parsed
			break
		}
		if round >= maxStructuredRepairAttempts {
			invokeErr = fmt.Errorf("%w: %v", ErrMalformed, err)
			break
		}

		messages = append(messages,
			openai.AssistantMessage(content),
			openai.UserMessage(structuredRepairPrompt(req.Schema, content, err)),
		)
	}

	result.Duration = time.Since(start)
	c.record(ctx, req, result, invokeErr)

	if invokeErr != nil {
		return nil, invokeErr
	}
	return result, nil
}

// complete performs one rate-limited, retried chat completion call.
func (c *OpenAIClient) complete(ctx context.Context, model string, messages []openai.ChatCompletionMessageParamUnion, req *TaskRequest, result *TaskResult) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Schema) > 0 {
		var schemaAny any
		if err := json.Unmarshal(req.Schema, &schemaAny); err != nil {
			return "", fmt.Errorf("invalid task schema: %w", err)
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   string(req.Kind) + "_result",
					Schema: schemaAny,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	var resp *openai.ChatCompletion
	err := retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			var callErr error
			resp, callErr = c.client.Chat.Completions.New(ctx, params)
			if callErr == nil {
				result.Attempts++
				return nil
			}
			result.Attempts++

			classified := c.classifyError(callErr)
			if errors.Is(classified, ErrRateLimited) {
				c.limiter.Record429(0)
				return classified
			}
			if errors.Is(classified, ErrTimeout) {
				return retry.Unrecoverable(classified)
			}
			if retryableStatus(callErr) {
				return classified
			}
			return retry.Unrecoverable(classified)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrProvider)
	}

	result.PromptTokens = int(resp.Usage.PromptTokens)
	result.CompletionTokens = int(resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

// classifyError maps SDK/transport errors onto the gateway taxonomy.
func (c *OpenAIClient) classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.StatusCode == http.StatusRequestTimeout:
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		default:
			return fmt.Errorf("%w: status %d: %v", ErrProvider, apiErr.StatusCode, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrProvider, err)
}

// retryableStatus reports whether the upstream error is worth retrying.
func retryableStatus(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	// Transport-level errors (connection reset, EOF) are retryable.
	return true
}

func (c *OpenAIClient) record(ctx context.Context, req *TaskRequest, result *TaskResult, err error) {
	if c.recorder == nil {
		return
	}
	c.recorder.Record(ctx, CallRecord{
		Gateway:          c.Name(),
		Model:            result.Model,
		Kind:             req.Kind,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		Duration:         result.Duration,
		Attempts:         result.Attempts,
		ErrorKind:        ErrorKind(err),
	})
}
