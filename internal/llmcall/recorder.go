// Package llmcall persists an audit record for every gateway invocation.
// Recording is fire-and-forget: gateway calls never block on the audit
// write, and a full queue drops records with a warning rather than stalling
// a pipeline stage.
package llmcall

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackzampolin/intake/internal/gateway"
	"github.com/jackzampolin/intake/internal/store"
)

const recordQueueSize = 256

// Recorder implements gateway.CallRecorder backed by the store.
type Recorder struct {
	store  *store.Store
	logger *slog.Logger

	ch   chan gateway.CallRecord
	wg   sync.WaitGroup
	once sync.Once
}

// NewRecorder creates a recorder and starts its background writer.
func NewRecorder(st *store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  st,
		logger: logger,
		ch:     make(chan gateway.CallRecord, recordQueueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record queues an audit record. Never blocks.
func (r *Recorder) Record(_ context.Context, rec gateway.CallRecord) {
	select {
	case r.ch <- rec:
	default:
		r.logger.Warn("llm call audit queue full, dropping record",
			"gateway", rec.Gateway, "kind", rec.Kind)
	}
}

// Close flushes queued records and stops the writer.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.ch) })
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for rec := range r.ch {
		call := store.LLMCall{
			Gateway:          rec.Gateway,
			Model:            rec.Model,
			Kind:             string(rec.Kind),
			PromptTokens:     rec.PromptTokens,
			CompletionTokens: rec.CompletionTokens,
			Duration:         rec.Duration,
			Attempts:         rec.Attempts,
			ErrorKind:        rec.ErrorKind,
		}
		if err := r.store.InsertCall(context.Background(), call); err != nil {
			r.logger.Warn("failed to record llm call", "error", err)
		}
	}
}
