// Package embedding holds wrappers shared by the embedding providers.
package embedding

import (
	"context"

	"golang.org/x/time/rate"

	"docqa/internal/domain"
)

// Limited throttles calls to an Embedder to a fixed request rate.
type Limited struct {
	next    domain.Embedder
	limiter *rate.Limiter
}

// WithRateLimit wraps next so that at most rps requests per second are
// issued, with bursts of up to burst requests. rps <= 0 returns next as is.
func WithRateLimit(next domain.Embedder, rps float64, burst int) domain.Embedder {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limited) Name() string { return l.next.Name() }

// Embed waits for a token, then delegates. A cancelled wait returns the
// context error.
func (l *Limited) Embed(ctx context.Context, text string) (domain.Vector, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Embed(ctx, text)
}
