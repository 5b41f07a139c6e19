package embedding

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"docqa/internal/domain"
)

type countingEmbedder struct{ calls atomic.Int32 }

func (c *countingEmbedder) Name() string { return "counting" }

func (c *countingEmbedder) Embed(context.Context, string) (domain.Vector, error) {
	c.calls.Add(1)
	return domain.Vector{1}, nil
}

func TestWithRateLimit_Disabled(t *testing.T) {
	next := &countingEmbedder{}
	if got := WithRateLimit(next, 0, 5); got != domain.Embedder(next) {
		t.Fatalf("expected the embedder to be returned unwrapped")
	}
}

func TestWithRateLimit_Throttles(t *testing.T) {
	next := &countingEmbedder{}
	e := WithRateLimit(next, 20, 1)
	if e.Name() != "counting" {
		t.Fatalf("got name %q", e.Name())
	}
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := e.Embed(context.Background(), "x"); err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
	}
	// first call uses the burst, the next two wait ~50ms each
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("3 calls at 20 rps finished in %v", elapsed)
	}
	if next.calls.Load() != 3 {
		t.Fatalf("got %d calls, want 3", next.calls.Load())
	}
}

func TestWithRateLimit_CancelledWait(t *testing.T) {
	next := &countingEmbedder{}
	e := WithRateLimit(next, 0.001, 1)
	if _, err := e.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("first call should use the burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := e.Embed(ctx, "x"); err == nil {
		t.Fatalf("expected the wait to fail")
	}
	if next.calls.Load() != 1 {
		t.Fatalf("got %d calls, want 1", next.calls.Load())
	}
}
