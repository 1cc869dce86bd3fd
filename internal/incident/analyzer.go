package incident

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Analysis is the optional enrichment returned by a ClaimAnalyzer.
type Analysis struct {
	ClaimSummary  string   `json:"claim_summary"`
	SeverityFlags []string `json:"severity_flags"`
	ResponseDraft string   `json:"response_draft,omitempty"`
}

// ClaimAnalyzer is the AI-assisted analysis capability. It may fail or time out;
// the engine treats it as optional and only lets it influence the context component.
type ClaimAnalyzer interface {
	Analyze(ctx context.Context, text string) (*Analysis, error)
}

// analyze calls a with a deadline. Failures are returned classified but are never
// fatal to the caller.
func analyze(ctx context.Context, a ClaimAnalyzer, timeout time.Duration, text string) (*Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *Analysis
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := a.Analyze(ctx, text)
		done <- outcome{res, err}
	}()

	// do not trust the analyzer to honour ctx
	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %w", ErrAnalyzerTimeout, o.err)
			}
			return nil, o.err
		}
		if o.res == nil {
			return nil, errors.New("claim analyzer returned no result")
		}
		return o.res, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s", ErrAnalyzerTimeout, timeout)
	}
}
