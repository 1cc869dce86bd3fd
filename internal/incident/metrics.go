package incident

import "github.com/prometheus/client_golang/prometheus"

// EngineHooks lets callers observe engine decisions. Every field is optional.
type EngineHooks struct {
	OnIngest     func(result string)
	OnAnalyze    func(outcome string, duration float64)
	OnScore      func(score float64, degraded bool)
	OnTransition func(from, to Status, actor string)
	OnAction     func(kind ActionKind, result string)
	OnConflict   func()
	OnSweep      func(closed int)
}

func (h EngineHooks) ingest(result string) {
	if h.OnIngest != nil {
		h.OnIngest(result)
	}
}

func (h EngineHooks) analyze(outcome string, duration float64) {
	if h.OnAnalyze != nil {
		h.OnAnalyze(outcome, duration)
	}
}

func (h EngineHooks) action(kind ActionKind, result string) {
	if h.OnAction != nil {
		h.OnAction(kind, result)
	}
}

func (h EngineHooks) conflict() {
	if h.OnConflict != nil {
		h.OnConflict()
	}
}

func (h EngineHooks) sweep(closed int) {
	if h.OnSweep != nil {
		h.OnSweep(closed)
	}
}

// committed reports the score and transition entries of a saved batch.
func (h EngineHooks) committed(entries []AuditEntry) {
	for n := range entries {
		e := &entries[n]
		switch e.Kind {
		case AuditScoreUpdate:
			if h.OnScore != nil {
				degraded := e.Breakdown != nil && e.Breakdown.Degraded
				h.OnScore(e.After.RiskScore, degraded)
			}
		case AuditTransition:
			if h.OnTransition != nil {
				h.OnTransition(e.Before.Status, e.After.Status, e.Actor)
			}
		}
	}
}

// Metrics holds Prometheus metrics for the incident engine.
type Metrics struct {
	IngestsTotal     *prometheus.CounterVec
	AnalyzerCalls    *prometheus.CounterVec
	AnalyzerDuration prometheus.Histogram
	RiskScore        prometheus.Histogram
	DegradedScores   prometheus.Counter
	TransitionsTotal *prometheus.CounterVec
	ActionsTotal     *prometheus.CounterVec
	ConflictsTotal   prometheus.Counter
	SweepClosedTotal prometheus.Counter
}

// NewMetrics registers and returns engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repute_ingests_total",
			Help: "Total mention ingestions by result.",
		}, []string{"result"}),
		AnalyzerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repute_analyzer_calls_total",
			Help: "Total claim analyzer calls by outcome.",
		}, []string{"outcome"}),
		AnalyzerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repute_analyzer_duration_seconds",
			Help:    "Duration of claim analyzer calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repute_risk_score",
			Help:    "Committed incident risk scores.",
			Buckets: prometheus.LinearBuckets(10, 10, 10), // 10 .. 100
		}),
		DegradedScores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repute_degraded_scores_total",
			Help: "Score updates computed without full claim analysis.",
		}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repute_transitions_total",
			Help: "Lifecycle transitions by source state, target state and cause.",
		}, []string{"from", "to", "cause"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repute_analyst_actions_total",
			Help: "Analyst actions by kind and result.",
		}, []string{"action", "result"}),
		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repute_commit_conflicts_total",
			Help: "Optimistic concurrency conflicts that caused a retry.",
		}),
		SweepClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repute_sweep_closed_total",
			Help: "Incidents closed automatically after their quiet period.",
		}),
	}

	reg.MustRegister(
		m.IngestsTotal,
		m.AnalyzerCalls,
		m.AnalyzerDuration,
		m.RiskScore,
		m.DegradedScores,
		m.TransitionsTotal,
		m.ActionsTotal,
		m.ConflictsTotal,
		m.SweepClosedTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnIngest: func(result string) {
			m.IngestsTotal.WithLabelValues(result).Inc()
		},
		OnAnalyze: func(outcome string, duration float64) {
			m.AnalyzerCalls.WithLabelValues(outcome).Inc()
			if outcome != "skipped" {
				m.AnalyzerDuration.Observe(duration)
			}
		},
		OnScore: func(score float64, degraded bool) {
			m.RiskScore.Observe(score)
			if degraded {
				m.DegradedScores.Inc()
			}
		},
		OnTransition: func(from, to Status, actor string) {
			cause := CauseAnalyst
			if actor == ActorSystem {
				cause = CauseAutomatic
			}
			m.TransitionsTotal.WithLabelValues(string(from), string(to), string(cause)).Inc()
		},
		OnAction: func(kind ActionKind, result string) {
			m.ActionsTotal.WithLabelValues(string(kind), result).Inc()
		},
		OnConflict: func() {
			m.ConflictsTotal.Inc()
		},
		OnSweep: func(closed int) {
			m.SweepClosedTotal.Add(float64(closed))
		},
	}
}
