package incident

import "context"

// Escalation describes an automatic transition worth telling humans about.
type Escalation struct {
	Incident *Incident
	From     Status
	To       Status
	Reason   string
}

// Notifier delivers escalations. Delivery failures never affect incident state.
type Notifier interface {
	Notify(ctx context.Context, esc *Escalation) error
}
