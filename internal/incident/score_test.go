package incident

import (
	"math"
	"reflect"
	"testing"
	"time"
)

func TestScore_SingleNewsMention(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultPolicy())
	inc := incidentOf(mention("m1", SourceNews, "news", batteryClaim, base, 1, 0))

	score, bd := s.Score(inc)
	if score != 53.17 {
		t.Errorf("score = %v, want 53.17", score)
	}
	if bd.Credibility.Weighted != 35 {
		t.Errorf("credibility weighted = %v, want 35", bd.Credibility.Weighted)
	}
	if bd.Context.Raw != 0.5 || bd.ContextSource != ContextFromDefault {
		t.Errorf("context = %v (%s), want neutral 0.5 (default)", bd.Context.Raw, bd.ContextSource)
	}
	if bd.Degraded {
		t.Error("expected non-degraded breakdown when analysis was skipped")
	}
	if !bd.EvaluatedAt.Equal(base) {
		t.Errorf("EvaluatedAt = %v, want latest mention time", bd.EvaluatedAt)
	}
}

func TestScore_Empty(t *testing.T) {
	t.Parallel()

	score, bd := NewScorer(DefaultPolicy()).Score(&Incident{})
	if score != 0 || bd.Mentions != 0 {
		t.Errorf("score = %v, mentions = %d, want 0, 0", score, bd.Mentions)
	}
}

func TestScore_CredibilityFavoursCredibleSources(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultPolicy())
	inc := incidentOf(
		mention("m1", SourceNews, "news", batteryClaim, base, 1.0, 0),
		mention("m2", SourceWeb, "web", batteryClaim, base, 0.4, 0),
	)
	_, bd := s.Score(inc)
	if bd.Credibility.Raw != 0.8286 {
		t.Errorf("credibility raw = %v, want 0.8286", bd.Credibility.Raw)
	}
	if bd.Sources != 2 {
		t.Errorf("sources = %d, want 2", bd.Sources)
	}
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultPolicy())
	ms := []MentionEvent{
		mention("m1", SourceNews, "news", batteryClaim, base, 1, 5000),
		mention("m2", SourceSocial, "twitter/a", batteryEcho, base.Add(time.Hour), 0.6, 120000),
		mention("m3", SourceWeb, "web", batteryClaim, base.Add(3*time.Hour), 0.5, 300),
	}
	ms[1].Analysis = AnalysisOK
	ms[1].SeverityFlags = []string{"safety", "legal", "novel"}

	forward := incidentOf(ms[0], ms[1], ms[2])
	reverse := incidentOf(ms[2], ms[1], ms[0])

	s1, b1 := s.Score(forward)
	s2, b2 := s.Score(reverse)
	s3, b3 := s.Score(forward)
	if s1 != s2 || s1 != s3 {
		t.Errorf("scores differ: %v %v %v", s1, s2, s3)
	}
	if !reflect.DeepEqual(b1, b2) || !reflect.DeepEqual(b1, b3) {
		t.Errorf("breakdowns differ:\n%+v\n%+v", b1, b2)
	}
}

func TestScore_Context(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		analysis AnalysisStatus
		flags    []string
		override *float64
		raw      float64
		source   string
		degraded bool
	}{
		{"skipped is neutral", AnalysisSkipped, nil, nil, 0.5, ContextFromDefault, false},
		{"degraded is neutral and flagged", AnalysisDegraded, nil, nil, 0.5, ContextFromDefault, true},
		{"single flag", AnalysisOK, []string{"safety"}, nil, 0.95, ContextFromAnalyzer, false},
		{"unknown flag", AnalysisOK, []string{"weird"}, nil, 0.4, ContextFromAnalyzer, false},
		{"no flags is calm", AnalysisOK, nil, nil, 0, ContextFromAnalyzer, false},
		{"noisy or", AnalysisOK, []string{"financial", "privacy"}, nil, 0.91, ContextFromAnalyzer, false},
		{"override wins", AnalysisOK, []string{"safety"}, ptr(0.1), 0.1, ContextFromOverride, false},
		{"override clamps", AnalysisSkipped, nil, ptr(3.0), 1, ContextFromOverride, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := mention("m1", SourceNews, "news", batteryClaim, base, 1, 0)
			m.Analysis = tt.analysis
			m.SeverityFlags = tt.flags
			inc := incidentOf(m)
			inc.ContextOverride = tt.override

			_, bd := NewScorer(DefaultPolicy()).Score(inc)
			if math.Abs(bd.Context.Raw-tt.raw) > 1e-4 {
				t.Errorf("context raw = %v, want %v", bd.Context.Raw, tt.raw)
			}
			if bd.ContextSource != tt.source {
				t.Errorf("context source = %q, want %q", bd.ContextSource, tt.source)
			}
			if bd.Degraded != tt.degraded {
				t.Errorf("degraded = %v, want %v", bd.Degraded, tt.degraded)
			}
		})
	}
}

func TestScore_SpreadWindow(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultPolicy())
	viralThenQuiet := incidentOf(
		mention("m1", SourceNews, "news", batteryClaim, base, 1, 5_000_000),
		mention("m2", SourceNews, "news", batteryClaim, base.Add(30*time.Hour), 1, 0),
	)
	_, bd := s.Score(viralThenQuiet)
	if bd.Reach != 0 {
		t.Errorf("reach = %d, want 0 once the viral mention left the spread window", bd.Reach)
	}

	viral := incidentOf(mention("m1", SourceNews, "news", batteryClaim, base, 1, 1_000_000))
	score, bd := s.Score(viral)
	if bd.Spread.Raw < 0.5 {
		t.Errorf("spread raw = %v, want >= 0.5 for a viral mention", bd.Spread.Raw)
	}
	if score < DefaultPolicy().AttentionThreshold {
		t.Errorf("score = %v, want above attention threshold", score)
	}
}

func TestScore_Bounded(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultPolicy())
	var ms []MentionEvent
	for i := range 200 {
		m := mention("m", SourceNews, "news", batteryClaim, base.Add(time.Duration(i)*time.Second), 1, math.MaxInt32)
		m.Analysis = AnalysisOK
		m.SeverityFlags = []string{"safety", "legal", "health"}
		ms = append(ms, m)
	}
	score, _ := s.Score(incidentOf(ms...))
	if score < 0 || score > 100 {
		t.Errorf("score = %v, want within 0..100", score)
	}
}

func TestScore_HugeReachSaturates(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultPolicy())
	inc := incidentOf(
		mention("a", SourceNews, "news/a", batteryClaim, base, 1, 1<<62),
		mention("b", SourceNews, "news/b", batteryEcho, base.Add(time.Minute), 1, math.MaxInt64),
	)
	score, bd := s.Score(inc)

	if bd.Reach != MaxReachEstimate {
		t.Errorf("Reach = %d, want %d", bd.Reach, MaxReachEstimate)
	}
	for name, v := range map[string]float64{
		"score":           score,
		"Spread.Raw":      bd.Spread.Raw,
		"Spread.Weighted": bd.Spread.Weighted,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("%s = %v, want finite", name, v)
		}
	}
	if bd.Spread.Raw <= 0 {
		t.Errorf("Spread.Raw = %v, want positive", bd.Spread.Raw)
	}
}

func TestAddReach(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b, want int64
	}{
		{0, 0, 0},
		{3, 4, 7},
		{MaxReachEstimate - 1, 1, MaxReachEstimate},
		{MaxReachEstimate, 1, MaxReachEstimate},
		{1 << 62, 1 << 62, MaxReachEstimate},
		{math.MaxInt64, math.MaxInt64, MaxReachEstimate},
	}
	for _, tt := range tests {
		if got := AddReach(tt.a, tt.b); got != tt.want {
			t.Errorf("AddReach(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"weights do not sum to one", func(p *Policy) { p.WeightContext = 0.5 }},
		{"negative weight", func(p *Policy) { p.WeightSpread = -0.1; p.WeightCredibility = 0.8 }},
		{"zero threshold", func(p *Policy) { p.SimilarityThreshold = 0 }},
		{"attention above 100", func(p *Policy) { p.AttentionThreshold = 101 }},
		{"single source corroboration", func(p *Policy) { p.CorroborationSources = 1 }},
		{"no analyzer timeout", func(p *Policy) { p.AnalyzerTimeout = 0 }},
		{"hot factor below one", func(p *Policy) { p.HotWindowFactor = 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultPolicy()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
