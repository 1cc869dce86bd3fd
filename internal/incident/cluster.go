package incident

import (
	"sort"
	"time"
)

// Candidate is an incident an event qualifies for, with the similarity that qualified it.
type Candidate struct {
	Incident   *Incident
	Similarity float64
}

// Clusterer decides which incident a mention belongs to.
type Clusterer struct {
	policy Policy
}

// NewClusterer creates a clusterer using the policy's threshold and window.
func NewClusterer(policy Policy) *Clusterer {
	return &Clusterer{policy: policy}
}

// Match returns the best similarity between ev and any mention of inc, and whether
// ev qualifies to join inc (similarity and time window both satisfied).
func (c *Clusterer) Match(ev *MentionEvent, inc *Incident) (float64, bool) {
	if len(inc.Mentions) == 0 {
		return 0, false
	}

	window := c.policy.clusterWindow(inc.RiskScore)
	lo := inc.FirstMentionAt().Add(-window)
	hi := inc.LatestMentionAt().Add(window)
	if ev.Timestamp.Before(lo) || ev.Timestamp.After(hi) {
		return 0, false
	}

	efp := fingerprintOf(ev)
	best := 0.0
	for n := range inc.Mentions {
		if s := similarity(efp, fingerprintOf(&inc.Mentions[n])); s > best {
			best = s
		}
	}
	return best, best >= c.policy.SimilarityThreshold
}

// Candidates returns every incident ev qualifies for, best first. Ordering follows the
// tie-break rules: most recent transition, then higher risk, then older incident, then ID.
func (c *Clusterer) Candidates(ev *MentionEvent, incidents []*Incident) []Candidate {
	var out []Candidate
	for _, inc := range incidents {
		if sim, ok := c.Match(ev, inc); ok {
			out = append(out, Candidate{Incident: inc, Similarity: sim})
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		x, y := out[a].Incident, out[b].Incident
		if !x.LastTransitionAt.Equal(y.LastTransitionAt) {
			return x.LastTransitionAt.After(y.LastTransitionAt)
		}
		if x.RiskScore != y.RiskScore {
			return x.RiskScore > y.RiskScore
		}
		if !x.CreatedAt.Equal(y.CreatedAt) {
			return x.CreatedAt.Before(y.CreatedAt)
		}
		return x.ID < y.ID
	})
	return out
}

// Assign picks the incident ev joins, appending it in timestamp position. When no incident
// qualifies it returns a new Open incident holding only ev; created reports which case applied.
// The chosen incident is mutated in place.
func (c *Clusterer) Assign(ev MentionEvent, open []*Incident, id string, now time.Time) (inc *Incident, created bool) {
	if cands := c.Candidates(&ev, open); len(cands) > 0 {
		inc = cands[0].Incident
		inc.insertMention(ev)
		return inc, false
	}
	return newIncident(ev, id, now), true
}

func newIncident(ev MentionEvent, id string, now time.Time) *Incident {
	inc := &Incident{
		ID:               id,
		Title:            titleFor(&ev),
		CreatedAt:        now,
		Status:           StatusOpen,
		LastTransitionAt: now,
	}
	inc.insertMention(ev)
	return inc
}

const maxTitleLen = 512

func titleFor(ev *MentionEvent) string {
	t := []rune(claimText(ev))
	if len(t) <= maxTitleLen {
		return string(t)
	}
	return string(t[:maxTitleLen-3]) + "..."
}
