package incident

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// MaxReachEstimate is the largest reach a single mention may claim. Reach sums
// saturate at it so spread math stays finite.
const MaxReachEstimate int64 = 1 << 53

// AddReach adds two non-negative reach estimates, saturating at MaxReachEstimate.
func AddReach(a, b int64) int64 {
	if a >= MaxReachEstimate-b {
		return MaxReachEstimate
	}
	return a + b
}

// RawPayload is the canonical shape every MentionSource produces.
type RawPayload struct {
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	SourceID      string    `json:"source_id"`
	ReachEstimate int64     `json:"reach_estimate"`
	URL           string    `json:"url,omitempty"`
}

// MentionSource is implemented by the news, web, social and manual adapters.
type MentionSource interface {
	Kind() SourceKind
	Payload() RawPayload
}

// Normalizer maps raw payloads into MentionEvents.
type Normalizer struct {
	table CredibilityTable
	newID func() string
}

// NewNormalizer creates a normalizer that weights sources using table.
func NewNormalizer(table CredibilityTable) *Normalizer {
	return &Normalizer{
		table: table,
		newID: func() string { return ulid.Make().String() },
	}
}

// Normalize validates raw and converts it to a MentionEvent. It has no side effects.
func (n *Normalizer) Normalize(raw RawPayload, kind SourceKind) (MentionEvent, error) {
	if !kind.Valid() {
		return MentionEvent{}, fmt.Errorf("%w: %q", ErrInvalidSourceKind, kind)
	}

	text := strings.TrimSpace(raw.Text)
	var missing []string
	if text == "" {
		missing = append(missing, "text")
	}
	if raw.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return MentionEvent{}, fmt.Errorf("%w: missing %s", ErrMalformedPayload, strings.Join(missing, ", "))
	}
	if raw.ReachEstimate < 0 {
		return MentionEvent{}, fmt.Errorf("%w: negative reach estimate %d", ErrMalformedPayload, raw.ReachEstimate)
	}
	if raw.ReachEstimate > MaxReachEstimate {
		return MentionEvent{}, fmt.Errorf("%w: reach estimate %d above %d", ErrMalformedPayload, raw.ReachEstimate, MaxReachEstimate)
	}

	sourceID := strings.TrimSpace(raw.SourceID)
	if sourceID == "" {
		sourceID = string(kind)
	}

	return MentionEvent{
		ID:                n.newID(),
		Source:            kind,
		SourceID:          sourceID,
		CredibilityWeight: n.table.Weight(kind, sourceID),
		Timestamp:         raw.Timestamp.UTC().Truncate(time.Microsecond),
		RawText:           text,
		URL:               strings.TrimSpace(raw.URL),
		Analysis:          AnalysisSkipped,
		ReachEstimate:     raw.ReachEstimate,
	}, nil
}
