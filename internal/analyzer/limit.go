package analyzer

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/pbaille/followup/internal/domain"
)

// Limited paces calls to Next with a token bucket.
type Limited struct {
	Next    Analyzer
	limiter *rate.Limiter
}

// WithLimit wraps next so at most rps calls start per second. rps <= 0
// disables pacing.
func WithLimit(next Analyzer, rps float64) *Limited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Limited{Next: next, limiter: rate.NewLimiter(limit, 1)}
}

func (l *Limited) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("analyzer rate limit: %w", err)
	}
	return l.Next.Analyze(ctx, req)
}
