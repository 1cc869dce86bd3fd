package incident

import (
	"math"
	"slices"
	"strings"
	"time"
)

// Scorer computes deterministic, explainable risk scores.
type Scorer struct {
	policy Policy
}

// NewScorer creates a scorer with the policy's weights and scales.
func NewScorer(policy Policy) *Scorer {
	return &Scorer{policy: policy}
}

// Score computes the risk score of inc from its mentions and context override.
// The only time input is the latest mention timestamp, so the same mention set
// always yields the same score and breakdown.
func (s *Scorer) Score(inc *Incident) (float64, Breakdown) {
	p := s.policy
	b := Breakdown{
		Mentions: len(inc.Mentions),
		Sources:  inc.distinctSources(),
	}
	if len(inc.Mentions) == 0 {
		b.ContextSource = ContextFromDefault
		return 0, b
	}

	asOf := inc.LatestMentionAt()
	b.EvaluatedAt = asOf
	b.ElapsedSeconds = asOf.Sub(inc.FirstMentionAt()).Seconds()

	cred := s.credibility(inc.Mentions)
	spread, reach := s.spread(inc.Mentions, asOf)
	b.Reach = reach

	ctx, source, degraded := s.context(inc)
	b.ContextSource = source
	b.Degraded = degraded

	b.Credibility = component(cred, p.WeightCredibility)
	b.Spread = component(spread, p.WeightSpread)
	b.Context = component(ctx, p.WeightContext)

	total := b.Credibility.Weighted + b.Spread.Weighted + b.Context.Weighted
	return round2(clamp(total, 0, 100)), b
}

// credibility is the self-weighted mean of source weights, so credible sources dominate.
func (s *Scorer) credibility(ms []MentionEvent) float64 {
	var sum, sumSq float64
	for _, m := range ms {
		w := clamp(m.CredibilityWeight, 0, 1)
		sum += w
		sumSq += w * w
	}
	if sum == 0 {
		return 0
	}
	return sumSq / sum
}

// spread combines mention volume and reach velocity over the spread window ending at asOf.
func (s *Scorer) spread(ms []MentionEvent, asOf time.Time) (float64, int64) {
	p := s.policy
	from := asOf.Add(-p.SpreadWindow)

	var n int
	var reach int64
	var first time.Time
	for _, m := range ms {
		if m.Timestamp.Before(from) {
			continue
		}
		if n == 0 {
			first = m.Timestamp
		}
		n++
		reach = AddReach(reach, max(m.ReachEstimate, 0))
	}

	hours := math.Max(asOf.Sub(first).Hours(), 1)
	rate := float64(reach) / hours

	volume := 1 - math.Exp(-float64(n)/p.MentionScale)
	velocity := 1 - math.Exp(-rate/p.ReachRateScale)
	return 0.5*volume + 0.5*velocity, reach
}

// context derives the severity signal. Analyzer output only ever feeds this component.
func (s *Scorer) context(inc *Incident) (value float64, source string, degraded bool) {
	p := s.policy

	flags := make(map[string]struct{})
	analyzed := 0
	for _, m := range inc.Mentions {
		switch m.Analysis {
		case AnalysisOK:
			analyzed++
			for _, f := range m.SeverityFlags {
				flags[strings.ToLower(strings.TrimSpace(f))] = struct{}{}
			}
		case AnalysisDegraded:
			degraded = true
		}
	}

	if inc.ContextOverride != nil {
		return clamp(*inc.ContextOverride, 0, 1), ContextFromOverride, degraded
	}
	if analyzed == 0 {
		return p.NeutralContext, ContextFromDefault, degraded
	}

	// noisy-OR over distinct flags, in a fixed order so float rounding is stable
	keys := make([]string, 0, len(flags))
	for f := range flags {
		if f != "" {
			keys = append(keys, f)
		}
	}
	slices.Sort(keys)

	calm := 1.0
	for _, f := range keys {
		w, ok := p.SeverityWeights[f]
		if !ok {
			w = p.UnknownSeverityWeight
		}
		calm *= 1 - clamp(w, 0, 1)
	}
	return 1 - calm, ContextFromAnalyzer, degraded
}

func component(raw, weight float64) Component {
	return Component{
		Raw:      round4(raw),
		Weight:   weight,
		Weighted: round4(100 * weight * raw),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
