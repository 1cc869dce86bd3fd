package incident

import (
	"slices"
	"time"
)

// SourceKind identifies which family of connector produced a mention.
type SourceKind string

const (
	SourceNews   SourceKind = "news"
	SourceWeb    SourceKind = "web"
	SourceSocial SourceKind = "social"
	SourceManual SourceKind = "manual"
)

// Valid reports whether k is one of the recognized source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceNews, SourceWeb, SourceSocial, SourceManual:
		return true
	}
	return false
}

// Status tracks where an incident is in its lifecycle.
type Status string

const (
	// StatusOpen is the initial state of every incident
	StatusOpen Status = "open"

	// StatusMonitoring means the incident needs analyst attention
	StatusMonitoring Status = "monitoring"

	// StatusResponded means an analyst has published a response
	StatusResponded Status = "responded"

	// StatusClosed is terminal, but closed incidents are retained
	StatusClosed Status = "closed"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusMonitoring, StatusResponded, StatusClosed:
		return true
	}
	return false
}

// AnalysisStatus records what happened when the claim analyzer was consulted for a mention.
type AnalysisStatus string

const (
	AnalysisOK       AnalysisStatus = "ok"
	AnalysisDegraded AnalysisStatus = "degraded"
	AnalysisSkipped  AnalysisStatus = "skipped"
)

// MentionEvent is one normalized unit of reputation-relevant signal from a single source.
// It is never mutated after normalization and enrichment.
type MentionEvent struct {
	ID                string         `json:"id"`
	Source            SourceKind     `json:"source"`
	SourceID          string         `json:"source_id"`
	CredibilityWeight float64        `json:"source_credibility_weight"`
	Timestamp         time.Time      `json:"timestamp"`
	RawText           string         `json:"raw_text"`
	URL               string         `json:"url,omitempty"`
	ClaimSummary      string         `json:"claim_summary,omitempty"`
	SeverityFlags     []string       `json:"severity_flags,omitempty"`
	Analysis          AnalysisStatus `json:"analysis"`
	ReachEstimate     int64          `json:"reach_estimate"`
}

// Component is one explainable term of the risk score.
type Component struct {
	Raw      float64 `json:"raw"`
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
}

// Context sources reported in a Breakdown.
const (
	ContextFromAnalyzer = "analyzer"
	ContextFromDefault  = "default"
	ContextFromOverride = "override"
)

// Breakdown explains how a risk score was produced.
type Breakdown struct {
	Credibility    Component `json:"credibility"`
	Spread         Component `json:"spread"`
	Context        Component `json:"context"`
	ContextSource  string    `json:"context_source"`
	Degraded       bool      `json:"degraded"`
	Mentions       int       `json:"mentions"`
	Sources        int       `json:"sources"`
	Reach          int64     `json:"reach"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// Incident is a cluster of related mentions tracked as one reputational risk item.
type Incident struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	CreatedAt        time.Time      `json:"created_at"`
	Status           Status         `json:"status"`
	Mentions         []MentionEvent `json:"mentions"`
	RiskScore        float64        `json:"risk_score"`
	Breakdown        Breakdown      `json:"risk_breakdown"`
	LastTransitionAt time.Time      `json:"last_transition_at"`
	ClosedReason     string         `json:"closed_reason,omitempty"`
	ClosedAt         time.Time      `json:"closed_at,omitzero"`
	RespondedAt      time.Time      `json:"responded_at,omitzero"`
	ResponseRef      string         `json:"response_ref,omitempty"`
	ResponseDraft    string         `json:"response_draft,omitempty"`
	ContextOverride  *float64       `json:"context_override,omitempty"`
	Version          int            `json:"version"`
	LedgerHead       string         `json:"ledger_head,omitempty"`
	LedgerSeq        int            `json:"ledger_seq"`
}

// Clone returns a deep copy so callers can mutate it without touching stored state.
func (i *Incident) Clone() *Incident {
	cp := *i
	cp.Mentions = make([]MentionEvent, len(i.Mentions))
	for n, m := range i.Mentions {
		m.SeverityFlags = slices.Clone(m.SeverityFlags)
		cp.Mentions[n] = m
	}
	if i.ContextOverride != nil {
		v := *i.ContextOverride
		cp.ContextOverride = &v
	}
	return &cp
}

// FirstMentionAt returns the timestamp of the earliest mention.
func (i *Incident) FirstMentionAt() time.Time {
	if len(i.Mentions) == 0 {
		return time.Time{}
	}
	return i.Mentions[0].Timestamp
}

// LatestMentionAt returns the timestamp of the most recent mention.
func (i *Incident) LatestMentionAt() time.Time {
	if len(i.Mentions) == 0 {
		return time.Time{}
	}
	return i.Mentions[len(i.Mentions)-1].Timestamp
}

// insertMention appends ev at the position that keeps mentions in timestamp order.
// Mentions with an equal timestamp keep arrival order.
func (i *Incident) insertMention(ev MentionEvent) {
	pos, _ := slices.BinarySearchFunc(i.Mentions, ev.Timestamp, func(m MentionEvent, t time.Time) int {
		if m.Timestamp.After(t) {
			return 1
		}
		return -1
	})
	i.Mentions = slices.Insert(i.Mentions, pos, ev)
}

// distinctSources counts independent sub-sources among the mentions.
func (i *Incident) distinctSources() int {
	seen := make(map[string]struct{}, len(i.Mentions))
	for _, m := range i.Mentions {
		seen[string(m.Source)+"|"+m.SourceID] = struct{}{}
	}
	return len(seen)
}

// snapshot captures the audited fields of an incident.
func (i *Incident) snapshot() Snapshot {
	s := Snapshot{
		Status:    i.Status,
		RiskScore: i.RiskScore,
		Mentions:  len(i.Mentions),
	}
	if i.ContextOverride != nil {
		v := *i.ContextOverride
		s.ContextOverride = &v
	}
	return s
}

// AuditKind classifies ledger entries.
type AuditKind string

const (
	AuditScoreUpdate    AuditKind = "score-update"
	AuditTransition     AuditKind = "transition"
	AuditManualOverride AuditKind = "manual-override"
)

// ActorSystem is the actor recorded for automatic decisions.
const ActorSystem = "system"

// Snapshot is the audited state of an incident before or after a mutation.
type Snapshot struct {
	Status          Status   `json:"status,omitempty"`
	RiskScore       float64  `json:"risk_score"`
	Mentions        int      `json:"mentions"`
	ContextOverride *float64 `json:"context_override,omitempty"`
}

// Equal reports whether two snapshots describe the same state.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.Status != o.Status || s.RiskScore != o.RiskScore || s.Mentions != o.Mentions {
		return false
	}
	if (s.ContextOverride == nil) != (o.ContextOverride == nil) {
		return false
	}
	return s.ContextOverride == nil || *s.ContextOverride == *o.ContextOverride
}

// AuditEntry is one immutable record in an incident's ledger.
type AuditEntry struct {
	ID         string     `json:"id"`
	IncidentID string     `json:"incident_id"`
	Seq        int        `json:"seq"`
	Timestamp  time.Time  `json:"timestamp"`
	Kind       AuditKind  `json:"kind"`
	Before     Snapshot   `json:"before"`
	After      Snapshot   `json:"after"`
	Actor      string     `json:"actor"`
	Reason     string     `json:"reason,omitempty"`
	Breakdown  *Breakdown `json:"breakdown,omitempty"`
	PrevHash   string     `json:"prev_hash"`
	Hash       string     `json:"hash"`
}
