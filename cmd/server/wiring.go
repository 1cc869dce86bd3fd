package main

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/repute/internal/analyzer"
	"github.com/linnemanlabs/repute/internal/analyzer/claude"
	"github.com/linnemanlabs/repute/internal/analyzer/openai"
	rc "github.com/linnemanlabs/repute/internal/cfg"
	"github.com/linnemanlabs/repute/internal/incident"
	"github.com/linnemanlabs/repute/internal/postgres"
)

// buildAnalyzer returns the configured claim analyzer wrapped in the result
// cache and rate limiter, or nil when analysis is disabled.
func buildAnalyzer(c *rc.Config) (incident.ClaimAnalyzer, string) {
	var (
		a     incident.ClaimAnalyzer
		model string
	)
	switch c.Analyzer {
	case rc.AnalyzerClaude:
		a, model = claude.New(c.ClaudeAPIKey, c.ClaudeModel), c.ClaudeModel
	case rc.AnalyzerOpenAI:
		a, model = openai.New(openai.Config{
			APIKey:  c.OpenAIAPIKey,
			OrgID:   c.OpenAIOrgID,
			Model:   c.OpenAIModel,
			BaseURL: c.OpenAIBaseURL,
		}), c.OpenAIModel
	default:
		return nil, ""
	}

	// cache hits never wait for a rate limit token
	if c.AnalyzerRate > 0 {
		a = analyzer.NewRateLimited(a, c.AnalyzerRate, c.AnalyzerBurst)
	}
	if c.AnalyzerCacheTTL > 0 {
		a = analyzer.NewCached(a, c.AnalyzerCacheTTL)
	}
	return a, model
}

// sweeper periodically closes quiet incidents.
type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// runSweeper calls Sweep every interval until ctx is done. The returned
// channel closes once the loop has exited.
func runSweeper(ctx context.Context, s sweeper, interval time.Duration, L log.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				closed, err := s.Sweep(postgres.WithOperation(ctx, "sweep"))
				if err != nil {
					L.Error(ctx, err, "sweep failed")
					continue
				}
				if closed > 0 {
					L.Info(ctx, "sweep closed quiet incidents", "closed", closed)
				}
			}
		}
	}()
	return done
}
