package incident

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	batteryClaim = "Acme Model X batteries catching fire in garages"
	batteryEcho  = "Acme Model X batteries catching fire in homes"
	earnings     = "Quarterly earnings beat analyst expectations by wide margin"
)

// fakeStore is an in-memory Store with failure injection.
type fakeStore struct {
	mu        sync.Mutex
	incidents map[string]*Incident
	audit     map[string][]AuditEntry

	saveErr      error
	loadErr      error
	conflictOnce bool
	saves        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		incidents: make(map[string]*Incident),
		audit:     make(map[string][]AuditEntry),
	}
}

func (s *fakeStore) Get(_ context.Context, id string) (*Incident, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return inc.Clone(), true, nil
}

func (s *fakeStore) LoadOpenIncidents(_ context.Context, closedSince time.Time) ([]*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var out []*Incident
	for _, inc := range s.incidents {
		if inc.Status == StatusClosed && inc.ClosedAt.Before(closedSince) {
			continue
		}
		out = append(out, inc.Clone())
	}
	return out, nil
}

func (s *fakeStore) Save(_ context.Context, inc *Incident, entries []AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.conflictOnce {
		s.conflictOnce = false
		return fmt.Errorf("%w: injected", ErrVersionConflict)
	}
	stored := 0
	if cur, ok := s.incidents[inc.ID]; ok {
		stored = cur.Version
	}
	if inc.Version != stored+1 {
		return fmt.Errorf("%w: %s at %d, got %d", ErrVersionConflict, inc.ID, stored, inc.Version)
	}
	s.saves++
	s.incidents[inc.ID] = inc.Clone()
	s.audit[inc.ID] = append(s.audit[inc.ID], entries...)
	return nil
}

func (s *fakeStore) AuditTrail(_ context.Context, id string) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return slices.Clone(s.audit[id]), nil
}

func (s *fakeStore) List(_ context.Context, filter ListFilter) ([]*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Incident
	for _, inc := range s.incidents {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		out = append(out, inc.Clone())
	}
	return out, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.incidents)
}

func (s *fakeStore) setSaveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// mockAnalyzer returns a fixed analysis, an error, or blocks until ctx is done.
type mockAnalyzer struct {
	result *Analysis
	err    error
	block  bool

	mu    sync.Mutex
	calls int
}

func (m *mockAnalyzer) Analyze(ctx context.Context, _ string) (*Analysis, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	cp := *m.result
	return &cp, nil
}

// mockNotifier records escalations.
type mockNotifier struct {
	mu   sync.Mutex
	got  []*Escalation
	fail bool
}

func (m *mockNotifier) Notify(_ context.Context, esc *Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, esc)
	if m.fail {
		return errors.New("webhook down")
	}
	return nil
}

func (m *mockNotifier) escalations() []*Escalation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.got)
}

type engineFixture struct {
	engine   *Engine
	store    *fakeStore
	clock    *testClock
	notifier *mockNotifier
}

func newFixture(t *testing.T, mutate func(*EngineConfig)) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:    newFakeStore(),
		clock:    &testClock{now: base},
		notifier: &mockNotifier{},
	}
	cfg := EngineConfig{
		Policy:      DefaultPolicy(),
		Credibility: DefaultCredibilityTable(),
		Notifier:    f.notifier,
		Now:         f.clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.engine = NewEngine(f.store, cfg, log.Nop(), EngineHooks{})
	return f
}

func (f *engineFixture) ingest(t *testing.T, kind SourceKind, sourceID, text string, at time.Time, reach int64) *Incident {
	t.Helper()
	inc, err := f.engine.Ingest(context.Background(), RawPayload{
		Text:          text,
		Timestamp:     at,
		SourceID:      sourceID,
		ReachEstimate: reach,
	}, kind)
	if err != nil {
		t.Fatalf("Ingest(%s, %q): %v", sourceID, text, err)
	}
	return inc
}

func (f *engineFixture) trail(t *testing.T, id string) []AuditEntry {
	t.Helper()
	entries, err := f.engine.Timeline(context.Background(), id)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	return entries
}

func mention(id string, kind SourceKind, sourceID, text string, at time.Time, weight float64, reach int64) MentionEvent {
	return MentionEvent{
		ID:                id,
		Source:            kind,
		SourceID:          sourceID,
		CredibilityWeight: weight,
		Timestamp:         at,
		RawText:           text,
		Analysis:          AnalysisSkipped,
		ReachEstimate:     reach,
	}
}

func incidentOf(ms ...MentionEvent) *Incident {
	inc := &Incident{ID: "inc", Status: StatusOpen, CreatedAt: base, LastTransitionAt: base}
	for _, m := range ms {
		inc.insertMention(m)
	}
	return inc
}

func ptr[T any](v T) *T { return &v }
