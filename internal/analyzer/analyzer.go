// Package analyzer holds what the claim analyzer backends share: the prompt,
// response parsing, and wrappers for caching and throttling.
package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/repute/internal/incident"
)

// ErrUnparseable means the model answered with something that is not an analysis.
var ErrUnparseable = xerrors.New("analyzer response is not valid analysis JSON")

// SystemPrompt instructs the model to extract the claim and draft a PR-safe response.
const SystemPrompt = `You are assisting a professional public relations team that monitors mentions of their company.

For the mention you are given:
- Summarize the central claim in one neutral sentence.
- Classify it with zero or more severity flags from: safety, legal, health, fraud, regulatory, financial, privacy, reputational.
- Draft a calm, factual, non-defensive response the team can review. Do not speculate, assign blame, verify truth or exaggerate.

Answer with a single JSON object and nothing else:
{"claim_summary": "...", "severity_flags": ["..."], "response_draft": "..."}`

// MaxTokens bounds the size of an analysis answer.
const MaxTokens = 1024

// UserPrompt wraps the mention text for the model.
func UserPrompt(text string) string {
	return "Mention:\n\"\"\"\n" + strings.TrimSpace(text) + "\n\"\"\""
}

// ParseAnalysis decodes the model's answer. Prose around the JSON object is tolerated.
func ParseAnalysis(text string) (*incident.Analysis, error) {
	text = strings.TrimSpace(text)
	var out incident.Analysis
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: %s", ErrUnparseable, truncate(text, 120))
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
		}
	}
	if strings.TrimSpace(out.ClaimSummary) == "" && len(out.SeverityFlags) == 0 {
		return nil, fmt.Errorf("%w: empty analysis", ErrUnparseable)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
