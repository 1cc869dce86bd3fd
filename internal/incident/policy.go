package incident

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy holds the tunable thresholds, windows and weights of the engine.
// It is loaded once at startup and never mutated afterwards.
type Policy struct {
	// Risk score weights, must sum to 1.
	WeightCredibility float64
	WeightSpread      float64
	WeightContext     float64

	// NeutralContext is the context component used when no analysis is available.
	NeutralContext float64

	// MentionScale and ReachRateScale shape the spread saturation curves.
	MentionScale   float64
	ReachRateScale float64
	SpreadWindow   time.Duration

	// SimilarityThreshold is the minimum similarity for a mention to join an incident.
	SimilarityThreshold float64
	ClusterWindow       time.Duration
	HotWindowFactor     float64

	AttentionThreshold   float64
	ReescalateThreshold  float64
	CorroborationSources int
	QuietPeriod          time.Duration
	ReopenWindow         time.Duration
	AutoReopen           bool

	AnalyzerTimeout time.Duration

	// SeverityWeights maps analyzer severity flags to their context weight.
	SeverityWeights       map[string]float64
	UnknownSeverityWeight float64
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		WeightCredibility:    0.35,
		WeightSpread:         0.35,
		WeightContext:        0.30,
		NeutralContext:       0.5,
		MentionScale:         5,
		ReachRateScale:       10000,
		SpreadWindow:         24 * time.Hour,
		SimilarityThreshold:  0.5,
		ClusterWindow:        6 * time.Hour,
		HotWindowFactor:      4,
		AttentionThreshold:   60,
		ReescalateThreshold:  60,
		CorroborationSources: 2,
		QuietPeriod:          48 * time.Hour,
		ReopenWindow:         72 * time.Hour,
		AutoReopen:           true,
		AnalyzerTimeout:      5 * time.Second,
		SeverityWeights: map[string]float64{
			"safety":       0.95,
			"legal":        0.9,
			"health":       0.9,
			"fraud":        0.85,
			"regulatory":   0.8,
			"financial":    0.7,
			"privacy":      0.7,
			"reputational": 0.5,
		},
		UnknownSeverityWeight: 0.4,
	}
}

// Validate checks the policy for internal consistency.
func (p Policy) Validate() error {
	var errs []error

	for name, w := range map[string]float64{
		"credibility": p.WeightCredibility,
		"spread":      p.WeightSpread,
		"context":     p.WeightContext,
	} {
		if w < 0 || w > 1 {
			errs = append(errs, fmt.Errorf("%s weight %v out of range 0..1", name, w))
		}
	}
	if sum := p.WeightCredibility + p.WeightSpread + p.WeightContext; math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("score weights must sum to 1, got %v", sum))
	}
	if p.NeutralContext < 0 || p.NeutralContext > 1 {
		errs = append(errs, fmt.Errorf("neutral context %v out of range 0..1", p.NeutralContext))
	}
	if p.MentionScale <= 0 || p.ReachRateScale <= 0 {
		errs = append(errs, errors.New("spread scales must be positive"))
	}
	if p.SpreadWindow <= 0 || p.ClusterWindow <= 0 {
		errs = append(errs, errors.New("spread and cluster windows must be positive"))
	}
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("similarity threshold %v out of range (0,1]", p.SimilarityThreshold))
	}
	if p.HotWindowFactor < 1 {
		errs = append(errs, fmt.Errorf("hot window factor %v must be >= 1", p.HotWindowFactor))
	}
	if p.AttentionThreshold <= 0 || p.AttentionThreshold > 100 {
		errs = append(errs, fmt.Errorf("attention threshold %v out of range (0,100]", p.AttentionThreshold))
	}
	if p.ReescalateThreshold <= 0 || p.ReescalateThreshold > 100 {
		errs = append(errs, fmt.Errorf("re-escalation threshold %v out of range (0,100]", p.ReescalateThreshold))
	}
	if p.CorroborationSources < 2 {
		errs = append(errs, fmt.Errorf("corroboration sources %d must be >= 2", p.CorroborationSources))
	}
	if p.QuietPeriod <= 0 || p.ReopenWindow < 0 {
		errs = append(errs, errors.New("quiet period must be positive and reopen window non-negative"))
	}
	if p.AnalyzerTimeout <= 0 {
		errs = append(errs, errors.New("analyzer timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// clusterWindow returns how far from an incident's mentions a new mention may lie.
// Hotter incidents stay open to clustering longer.
func (p Policy) clusterWindow(score float64) time.Duration {
	factor := 1 + clamp(score, 0, 100)/100*(p.HotWindowFactor-1)
	return time.Duration(float64(p.ClusterWindow) * factor)
}
