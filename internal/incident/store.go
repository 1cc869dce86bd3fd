package incident

import (
	"context"
	"time"
)

// ListFilter narrows Store.List results.
type ListFilter struct {
	Status Status
	Limit  int
}

// Store is the persistence interface for incidents and their audit trail.
type Store interface {
	Get(ctx context.Context, id string) (*Incident, bool, error)

	// LoadOpenIncidents returns every incident that is not closed, plus closed incidents
	// whose ClosedAt is at or after closedSince (candidates for reopening).
	LoadOpenIncidents(ctx context.Context, closedSince time.Time) ([]*Incident, error)

	// Save persists inc and appends entries to its audit trail as one atomic unit.
	// inc.Version must be exactly one more than the stored version (1 for new incidents),
	// otherwise Save fails with ErrVersionConflict and nothing is written.
	Save(ctx context.Context, inc *Incident, entries []AuditEntry) error

	// AuditTrail returns the incident's entries ordered by sequence.
	AuditTrail(ctx context.Context, incidentID string) ([]AuditEntry, error)

	List(ctx context.Context, filter ListFilter) ([]*Incident, error)
}

// CreationGuard is implemented by stores shared between processes. LockCreation blocks
// until the caller holds the store-wide creation lock; release gives it up. The engine
// holds it while it re-checks clustering and saves a new incident.
type CreationGuard interface {
	LockCreation(ctx context.Context) (release func(), err error)
}
