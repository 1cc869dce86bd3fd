package pgstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/repute/internal/incident"
	"github.com/linnemanlabs/repute/internal/incident/pgstore"
	"github.com/linnemanlabs/repute/internal/postgres"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("REPUTE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("REPUTE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func newIncident(t *testing.T) *incident.Incident {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := ulid.Make().String()
	return &incident.Incident{
		ID:               id,
		Title:            "Recall rumour for model X",
		CreatedAt:        now,
		Status:           incident.StatusOpen,
		LastTransitionAt: now,
		RiskScore:        42.5,
		Breakdown: incident.Breakdown{
			Credibility:   incident.Component{Raw: 0.8, Weight: 0.35, Weighted: 28},
			ContextSource: incident.ContextFromDefault,
			Mentions:      2,
			Sources:       2,
			EvaluatedAt:   now,
		},
		Version: 1,
		Mentions: []incident.MentionEvent{
			{
				ID: ulid.Make().String(), Source: incident.SourceNews, SourceID: "news/daily",
				CredibilityWeight: 1, Timestamp: now.Add(-time.Hour), RawText: "first",
				Analysis: incident.AnalysisOK, SeverityFlags: []string{"safety"}, ReachEstimate: 1000,
			},
			{
				ID: ulid.Make().String(), Source: incident.SourceSocial, SourceID: "twitter/alice",
				CredibilityWeight: 0.6, Timestamp: now, RawText: "second",
				Analysis: incident.AnalysisSkipped,
			},
		},
	}
}

// stage builds chained entries for inc the same way the engine does.
func stage(inc *incident.Incident, kinds ...incident.AuditKind) []incident.AuditEntry {
	batch := incident.NewLedger(nil, nil).Begin(inc)
	for _, k := range kinds {
		e := incident.AuditEntry{Kind: k, After: incident.Snapshot{Status: inc.Status, RiskScore: inc.RiskScore, Mentions: len(inc.Mentions)}}
		if k == incident.AuditScoreUpdate {
			bd := inc.Breakdown
			e.Breakdown = &bd
		}
		batch.Append(e)
	}
	return batch.Entries()
}

func TestSaveAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	inc := newIncident(t)
	if err := s.Save(ctx, inc, stage(inc, incident.AuditScoreUpdate)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Get(ctx, inc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get returned ok=false, want true")
	}

	assertEqual(t, "Title", inc.Title, got.Title)
	assertEqual(t, "Status", inc.Status, got.Status)
	assertEqual(t, "RiskScore", inc.RiskScore, got.RiskScore)
	assertEqual(t, "Version", inc.Version, got.Version)
	assertEqual(t, "LedgerSeq", inc.LedgerSeq, got.LedgerSeq)
	assertEqual(t, "LedgerHead", inc.LedgerHead, got.LedgerHead)
	assertEqual(t, "Breakdown.Credibility", inc.Breakdown.Credibility, got.Breakdown.Credibility)

	if len(got.Mentions) != 2 {
		t.Fatalf("len(Mentions) = %d, want 2", len(got.Mentions))
	}
	assertEqual(t, "Mentions[0].ID", inc.Mentions[0].ID, got.Mentions[0].ID)
	assertEqual(t, "Mentions[1].SourceID", "twitter/alice", got.Mentions[1].SourceID)
	if !got.Mentions[0].Timestamp.Equal(inc.Mentions[0].Timestamp) {
		t.Errorf("Mentions[0].Timestamp = %v, want %v", got.Mentions[0].Timestamp, inc.Mentions[0].Timestamp)
	}
	if len(got.Mentions[0].SeverityFlags) != 1 || got.Mentions[0].SeverityFlags[0] != "safety" {
		t.Errorf("SeverityFlags = %v, want [safety]", got.Mentions[0].SeverityFlags)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.Get(context.Background(), "nonexistent-"+ulid.Make().String())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestAuditTrailVerifiesAfterRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	inc := newIncident(t)
	if err := s.Save(ctx, inc, stage(inc, incident.AuditScoreUpdate, incident.AuditTransition)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	next := inc.Clone()
	next.Version = 2
	next.Status = incident.StatusMonitoring
	if err := s.Save(ctx, next, stage(next, incident.AuditTransition)); err != nil {
		t.Fatalf("Save v2: %v", err)
	}

	trail, err := s.AuditTrail(ctx, inc.ID)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("len(trail) = %d, want 3", len(trail))
	}
	if err := incident.VerifyChain(trail); err != nil {
		t.Fatalf("VerifyChain after round trip: %v", err)
	}
}

func TestSaveVersionConflict(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	inc := newIncident(t)
	if err := s.Save(ctx, inc, stage(inc, incident.AuditScoreUpdate)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// a second creator with the same ID loses
	dup := inc.Clone()
	dup.LedgerSeq, dup.LedgerHead = 0, ""
	err := s.Save(ctx, dup, stage(dup, incident.AuditScoreUpdate))
	if !errors.Is(err, incident.ErrVersionConflict) {
		t.Fatalf("duplicate create err = %v, want ErrVersionConflict", err)
	}

	// a stale writer loses and leaves nothing behind
	stale := inc.Clone()
	stale.Version = 3
	stale.Status = incident.StatusClosed
	err = s.Save(ctx, stale, stage(stale, incident.AuditTransition))
	if !errors.Is(err, incident.ErrVersionConflict) {
		t.Fatalf("stale update err = %v, want ErrVersionConflict", err)
	}

	got, _, _ := s.Get(ctx, inc.ID)
	assertEqual(t, "Status", incident.StatusOpen, got.Status)
	trail, _ := s.AuditTrail(ctx, inc.ID)
	assertEqual(t, "len(trail)", 1, len(trail))
}

func TestMentionPositionsShiftOnInsert(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	inc := newIncident(t)
	if err := s.Save(ctx, inc, stage(inc, incident.AuditScoreUpdate)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// a late mention lands between the two existing ones
	late := incident.MentionEvent{
		ID: ulid.Make().String(), Source: incident.SourceWeb, SourceID: "web",
		CredibilityWeight: 0.5, Timestamp: inc.Mentions[0].Timestamp.Add(time.Minute),
		RawText: "late", Analysis: incident.AnalysisSkipped,
	}
	next := inc.Clone()
	next.Version = 2
	next.Mentions = []incident.MentionEvent{inc.Mentions[0], late, inc.Mentions[1]}
	if err := s.Save(ctx, next, stage(next, incident.AuditScoreUpdate)); err != nil {
		t.Fatalf("Save v2: %v", err)
	}

	got, _, _ := s.Get(ctx, inc.ID)
	if len(got.Mentions) != 3 {
		t.Fatalf("len(Mentions) = %d, want 3", len(got.Mentions))
	}
	assertEqual(t, "Mentions[1].ID", late.ID, got.Mentions[1].ID)
}

func TestLoadOpenIncidents(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	open := newIncident(t)
	closed := newIncident(t)
	closed.Status = incident.StatusClosed
	closed.ClosedReason = "false positive"
	closed.ClosedAt = time.Now().UTC().Add(-200 * time.Hour).Truncate(time.Microsecond)

	for _, inc := range []*incident.Incident{open, closed} {
		if err := s.Save(ctx, inc, stage(inc, incident.AuditScoreUpdate)); err != nil {
			t.Fatalf("Save(%s): %v", inc.ID, err)
		}
	}

	got, err := s.LoadOpenIncidents(ctx, time.Now().Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("LoadOpenIncidents: %v", err)
	}
	ids := make(map[string]bool)
	for _, inc := range got {
		ids[inc.ID] = true
	}
	if !ids[open.ID] {
		t.Error("open incident missing")
	}
	if ids[closed.ID] {
		t.Error("incident closed before the cutoff should not be loaded")
	}
}

func TestLockCreationSerializes(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	release, err := s.LockCreation(ctx)
	if err != nil {
		t.Fatalf("LockCreation: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if _, err := s.LockCreation(waitCtx); err == nil {
		t.Fatal("second LockCreation succeeded while the lock was held")
	}

	release()
	again, err := s.LockCreation(ctx)
	if err != nil {
		t.Fatalf("LockCreation after release: %v", err)
	}
	again()
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %v, got %v", field, want, got)
	}
}
