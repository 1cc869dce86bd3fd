// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/repute/internal/incident"
)

// Store holds incidents and their audit trails in memory. Suitable for dev/testing
// and for offline replays.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident  // incident ID -> incident
	audit     map[string][]incident.AuditEntry // incident ID -> ledger, ordered by seq
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		audit:     make(map[string][]incident.AuditEntry),
	}
}

// Get retrieves an incident by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return inc.Clone(), true, nil
}

// LoadOpenIncidents returns copies of every non-closed incident and of closed incidents
// closed at or after closedSince.
func (s *Store) LoadOpenIncidents(_ context.Context, closedSince time.Time) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*incident.Incident
	for _, inc := range s.incidents {
		if inc.Status == incident.StatusClosed && inc.ClosedAt.Before(closedSince) {
			continue
		}
		out = append(out, inc.Clone())
	}
	return out, nil
}

// Save stores a copy of inc and appends entries to its ledger, or does nothing when
// the version or ledger sequence does not follow the stored state.
func (s *Store) Save(_ context.Context, inc *incident.Incident, entries []incident.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := 0
	if cur, ok := s.incidents[inc.ID]; ok {
		stored = cur.Version
	}
	if inc.Version != stored+1 {
		return fmt.Errorf("%w: %s at version %d, got %d", incident.ErrVersionConflict, inc.ID, stored, inc.Version)
	}

	trail := s.audit[inc.ID]
	for n, e := range entries {
		if want := len(trail) + n + 1; e.Seq != want || e.IncidentID != inc.ID {
			return fmt.Errorf("%w: %s ledger entry seq %d, want %d", incident.ErrVersionConflict, inc.ID, e.Seq, want)
		}
	}

	s.incidents[inc.ID] = inc.Clone()
	s.audit[inc.ID] = append(slices.Clip(trail), entries...)
	return nil
}

// AuditTrail returns a copy of the incident's ledger.
func (s *Store) AuditTrail(_ context.Context, incidentID string) ([]incident.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.audit[incidentID]), nil
}

// List returns copies of the incidents matching filter, most recently transitioned first.
func (s *Store) List(_ context.Context, filter incident.ListFilter) ([]*incident.Incident, error) {
	s.mu.RLock()
	out := make([]*incident.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		out = append(out, inc.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *incident.Incident) int {
		if c := b.LastTransitionAt.Compare(a.LastTransitionAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
