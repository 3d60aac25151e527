package gateway

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenExhaustion(t *testing.T) {
	r := NewRateLimiter(2.0)

	// Bucket starts full at the burst size.
	if !r.TryConsume() {
		t.Fatal("first token should be available")
	}
	if !r.TryConsume() {
		t.Fatal("second token should be available")
	}
	if r.TryConsume() {
		t.Error("bucket should be empty after consuming the burst")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	r := NewRateLimiter(100) // Fast refill keeps the test quick.
	for r.TryConsume() {
	}
	time.Sleep(50 * time.Millisecond)
	if !r.TryConsume() {
		t.Error("token should be available after refill window")
	}
}

func TestRateLimiter_WaitRespectsCancel(t *testing.T) {
	r := NewRateLimiter(0.1) // One token per 10s: Wait must block.
	for r.TryConsume() {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); err == nil {
		t.Error("Wait() should fail when the context expires first")
	}
}

func TestRateLimiter_Record429Drains(t *testing.T) {
	r := NewRateLimiter(2.0)
	r.Record429(time.Second)
	if r.TryConsume() {
		t.Error("429 with retry-after should drain the bucket")
	}
	st := r.Status()
	if st.Last429Time.IsZero() {
		t.Error("Last429Time not recorded")
	}
}

func TestRateLimiter_Status(t *testing.T) {
	r := NewRateLimiter(2.0)
	if !r.TryConsume() {
		t.Fatal("token should be available")
	}
	st := r.Status()
	if st.TotalConsumed != 1 {
		t.Errorf("TotalConsumed = %d, want 1", st.TotalConsumed)
	}
	if st.Utilization <= 0 {
		t.Errorf("Utilization = %v, want positive after consumption", st.Utilization)
	}
}
