package analyzer

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/linnemanlabs/repute/internal/incident"
)

// RateLimited throttles calls to next. Time spent waiting for a token counts
// against the caller's deadline.
type RateLimited struct {
	next    incident.ClaimAnalyzer
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls with bursts of burst.
func NewRateLimited(next incident.ClaimAnalyzer, perSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (l *RateLimited) Analyze(ctx context.Context, text string) (*incident.Analysis, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		// a token that would arrive after the deadline is a timeout too
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			return nil, fmt.Errorf("analyzer rate limit: %w: %w", context.DeadlineExceeded, err)
		}
		return nil, fmt.Errorf("analyzer rate limit: %w", err)
	}
	return l.next.Analyze(ctx, text)
}
