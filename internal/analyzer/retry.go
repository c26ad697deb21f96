package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/pbaille/followup/internal/domain"
)

const (
	defaultAttempts  = 4
	defaultBaseDelay = 2 * time.Second
)

// Retrying retries transient failures of Next with exponential backoff:
// BaseDelay, 2*BaseDelay, 4*BaseDelay... up to Attempts calls in total.
type Retrying struct {
	Next      Analyzer
	Attempts  int
	BaseDelay time.Duration
	Logger    *slog.Logger

	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each retry.
	OnRetry func(attempt int, err error)
}

// WithRetry wraps next with the default retry policy.
func WithRetry(next Analyzer, logger *slog.Logger) *Retrying {
	return &Retrying{Next: next, Logger: logger}
}

func (r *Retrying) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	base := r.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var result *domain.AnalysisResult
		result, err = r.Next.Analyze(ctx, req)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrTransient) || attempt == attempts {
			return nil, err
		}
		delay := time.Duration(math.Pow(2, float64(attempt-1))) * base
		logger.Warn("analyzer_retry", "attempt", attempt, "delay", delay, "error", err)
		if r.OnRetry != nil {
			r.OnRetry(attempt, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return nil, serr
		}
	}
	return nil, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
