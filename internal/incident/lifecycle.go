package incident

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Cause says who initiated a transition.
type Cause string

const (
	CauseAutomatic Cause = "automatic"
	CauseAnalyst   Cause = "analyst"
)

// edges lists every legal transition and which causes may take it.
var edges = map[Status]map[Status][]Cause{
	StatusOpen: {
		StatusMonitoring: {CauseAutomatic},
		StatusClosed:     {CauseAnalyst},
	},
	StatusMonitoring: {
		StatusResponded: {CauseAnalyst},
		StatusClosed:    {CauseAnalyst},
	},
	StatusResponded: {
		StatusMonitoring: {CauseAutomatic},
		StatusClosed:     {CauseAutomatic, CauseAnalyst},
	},
	StatusClosed: {
		StatusMonitoring: {CauseAutomatic},
	},
}

// TransitionRequest asks the lifecycle manager to move an incident to another status.
type TransitionRequest struct {
	To          Status
	Cause       Cause
	Actor       string
	Reason      string
	ResponseRef string
	At          time.Time
}

// Lifecycle owns the incident state machine.
type Lifecycle struct {
	policy Policy
}

// NewLifecycle creates a lifecycle manager with the policy's thresholds.
func NewLifecycle(policy Policy) *Lifecycle {
	return &Lifecycle{policy: policy}
}

// Allowed reports whether cause may move an incident from one status to another.
func Allowed(from, to Status, cause Cause) bool {
	return slices.Contains(edges[from][to], cause)
}

// Transition applies req to inc. On error inc is left untouched.
func (l *Lifecycle) Transition(inc *Incident, req TransitionRequest) error {
	from := inc.Status
	if !Allowed(from, req.To, req.Cause) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, from, req.To, req.Cause)
	}

	switch req.To {
	case StatusClosed:
		if strings.TrimSpace(req.Reason) == "" {
			return fmt.Errorf("%w: closing requires a reason", ErrInvalidAction)
		}
		inc.ClosedReason = req.Reason
		inc.ClosedAt = req.At
	case StatusResponded:
		if strings.TrimSpace(req.ResponseRef) == "" {
			return fmt.Errorf("%w: responding requires a response reference", ErrInvalidAction)
		}
		inc.RespondedAt = req.At
		inc.ResponseRef = req.ResponseRef
	case StatusMonitoring:
		if from == StatusClosed {
			inc.ClosedReason = ""
			inc.ClosedAt = time.Time{}
		}
	}

	inc.Status = req.To
	inc.LastTransitionAt = req.At
	return nil
}

// Next evaluates the automatic transitions for inc after its score was refreshed.
// joined is the mention that just joined the incident, nil for recomputes.
func (l *Lifecycle) Next(inc *Incident, joined *MentionEvent, at time.Time) (TransitionRequest, bool) {
	p := l.policy
	req := TransitionRequest{To: StatusMonitoring, Cause: CauseAutomatic, Actor: ActorSystem, At: at}

	switch inc.Status {
	case StatusOpen:
		if inc.RiskScore >= p.AttentionThreshold {
			req.Reason = fmt.Sprintf("risk score %.2f crossed attention threshold %.2f", inc.RiskScore, p.AttentionThreshold)
			return req, true
		}
		if n := inc.distinctSources(); n >= p.CorroborationSources {
			req.Reason = fmt.Sprintf("corroborated by %d independent sources", n)
			return req, true
		}
	case StatusResponded:
		if joined != nil && inc.RiskScore >= p.ReescalateThreshold {
			req.Reason = fmt.Sprintf("new mention after response, risk score %.2f above %.2f", inc.RiskScore, p.ReescalateThreshold)
			return req, true
		}
	case StatusClosed:
		if joined != nil && l.CanReopen(inc, joined) && inc.RiskScore >= p.AttentionThreshold {
			req.Reason = fmt.Sprintf("reopened by new mention, risk score %.2f above %.2f", inc.RiskScore, p.AttentionThreshold)
			return req, true
		}
	}
	return TransitionRequest{}, false
}

// CanReopen reports whether ev falls inside the reopen window of a closed incident.
func (l *Lifecycle) CanReopen(inc *Incident, ev *MentionEvent) bool {
	if inc.Status != StatusClosed || !l.policy.AutoReopen {
		return false
	}
	return !ev.Timestamp.After(inc.ClosedAt.Add(l.policy.ReopenWindow))
}

// QuietExpired reports whether a responded incident has seen no new mentions for the
// quiet period as of now.
func (l *Lifecycle) QuietExpired(inc *Incident, now time.Time) bool {
	if inc.Status != StatusResponded {
		return false
	}
	since := inc.RespondedAt
	if latest := inc.LatestMentionAt(); latest.After(since) {
		since = latest
	}
	return now.Sub(since) >= l.policy.QuietPeriod
}
