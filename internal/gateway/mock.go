package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockName identifies the mock gateway client.
const MockName = "mock"

// MockClient is a Client for testing. Responses can be scripted per task
// kind; unscripted kinds fall back to the default response.
type MockClient struct {
	// Configurable behavior
	Latency    time.Duration
	Err        error // Returned from every Invoke when set
	FailAfter  int   // Fail with Err after N requests (0 = never)
	ResponseJS json.RawMessage

	mu        sync.Mutex
	responses map[TaskKind][]json.RawMessage // Scripted, consumed in order
	errs      map[TaskKind]error

	// State
	requestCount atomic.Int64
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Latency:    time.Millisecond,
		ResponseJS: json.RawMessage(`{}`),
		responses:  make(map[TaskKind][]json.RawMessage),
		errs:       make(map[TaskKind]error),
	}
}

// Script queues a JSON response for a task kind. Queued responses are
// consumed in FIFO order before the default response is used.
func (c *MockClient) Script(kind TaskKind, raw string) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[kind] = append(c.responses[kind], json.RawMessage(raw))
	return c
}

// FailKind makes every invocation of the given kind return err.
func (c *MockClient) FailKind(kind TaskKind, err error) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[kind] = err
	return c
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockName
}

// Requests returns how many invocations the mock has seen.
func (c *MockClient) Requests() int {
	return int(c.requestCount.Load())
}

// Invoke returns the scripted response for the request's kind.
func (c *MockClient) Invoke(ctx context.Context, req *TaskRequest) (*TaskResult, error) {
	count := c.requestCount.Add(1)

	if c.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.Latency):
		}
	}

	if c.Err != nil && (c.FailAfter == 0 || count > int64(c.FailAfter)) {
		return nil, c.Err
	}

	c.mu.Lock()
	if err, ok := c.errs[req.Kind]; ok {
		c.mu.Unlock()
		return nil, err
	}
	raw := c.ResponseJS
	if queued := c.responses[req.Kind]; len(queued) > 0 {
		raw = queued[0]
		c.responses[req.Kind] = queued[1:]
	}
	c.mu.Unlock()

	if len(req.Schema) > 0 {
		if err := validateStructuredJSON(req.Schema, raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	return &TaskResult{
		Content:  string(raw),
		JSON:     raw,
		Model:    "mock-model",
		Duration: c.Latency,
		Attempts: 1,
	}, nil
}
