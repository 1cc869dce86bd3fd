package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/linnemanlabs/repute/internal/incident")

const (
	// maxPlacementAttempts bounds retries when a concurrent writer wins the version race.
	maxPlacementAttempts = 5

	notifyTimeout = 15 * time.Second
)

// EngineConfig carries the engine's tunables and optional collaborators.
type EngineConfig struct {
	Policy      Policy
	Credibility CredibilityTable

	// Analyzer and Notifier are optional.
	Analyzer ClaimAnalyzer
	Notifier Notifier

	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine is the facade over normalization, clustering, scoring, the lifecycle
// and the audit ledger. It is safe for concurrent use.
type Engine struct {
	normalizer *Normalizer
	clusterer  *Clusterer
	scorer     *Scorer
	lifecycle  *Lifecycle
	ledger     *Ledger

	store    Store
	analyzer ClaimAnalyzer
	notifier Notifier
	policy   Policy
	logger   log.Logger
	hooks    EngineHooks
	now      func() time.Time
	newID    func() string

	locks    *keyedMutex
	createMu sync.Mutex
	notifyWG sync.WaitGroup
}

// NewEngine creates an engine persisting through store.
func NewEngine(store Store, cfg EngineConfig, logger log.Logger, hooks EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		normalizer: NewNormalizer(cfg.Credibility),
		clusterer:  NewClusterer(cfg.Policy),
		scorer:     NewScorer(cfg.Policy),
		lifecycle:  NewLifecycle(cfg.Policy),
		ledger:     NewLedger(store, now),
		store:      store,
		analyzer:   cfg.Analyzer,
		notifier:   cfg.Notifier,
		policy:     cfg.Policy,
		logger:     logger,
		hooks:      hooks,
		now:        now,
		newID:      func() string { return ulid.Make().String() },
		locks:      newKeyedMutex(),
	}
}

// IngestFrom ingests the payload of a typed source adapter.
func (e *Engine) IngestFrom(ctx context.Context, src MentionSource) (*Incident, error) {
	return e.Ingest(ctx, src.Payload(), src.Kind())
}

// Ingest normalizes raw, enriches it with claim analysis when available, and places it
// on an existing incident or a new one. The returned incident is a copy of what was committed.
func (e *Engine) Ingest(ctx context.Context, raw RawPayload, kind SourceKind) (*Incident, error) {
	ctx, span := tracer.Start(ctx, "incident.ingest", trace.WithAttributes(
		attribute.String("repute.mention.source", string(kind)),
	))
	defer span.End()

	ev, err := e.normalizer.Normalize(raw, kind)
	if err != nil {
		e.logger.Warn(ctx, "mention rejected", "source", kind, "source_id", raw.SourceID, "error", err.Error())
		e.hooks.ingest("rejected")
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.String("repute.mention.id", ev.ID))

	L := e.logger.With("mention_id", ev.ID, "source", ev.Source, "source_id", ev.SourceID)
	draft := e.enrich(ctx, &ev)

	for attempt := 1; ; attempt++ {
		inc, entries, err := e.place(ctx, ev, draft)
		if err == nil {
			result := "attached"
			switch {
			case inc.Version == 1:
				result = "created"
			case reopened(entries):
				result = "reopened"
			}
			span.SetAttributes(
				attribute.String("repute.incident.id", inc.ID),
				attribute.String("repute.ingest.result", result),
				attribute.Int("repute.ingest.attempts", attempt),
			)
			e.hooks.ingest(result)
			e.hooks.committed(entries)
			e.escalate(ctx, inc, entries)

			L.Info(ctx, "mention ingested",
				"incident_id", inc.ID,
				"result", result,
				"status", inc.Status,
				"risk_score", inc.RiskScore,
				"mentions", len(inc.Mentions),
			)
			return inc.Clone(), nil
		}

		if !errors.Is(err, ErrVersionConflict) || attempt >= maxPlacementAttempts {
			L.Error(ctx, err, "mention ingest failed", "attempt", attempt)
			e.hooks.ingest("failed")
			return nil, spanError(span, err)
		}
		e.hooks.conflict()
		L.Warn(ctx, "incident changed concurrently, retrying placement", "attempt", attempt)
	}
}

// enrich runs the claim analyzer outside any lock. It never fails the ingest; on error
// the mention is marked degraded and scores from credibility and spread alone.
func (e *Engine) enrich(ctx context.Context, ev *MentionEvent) string {
	if e.analyzer == nil {
		ev.Analysis = AnalysisSkipped
		e.hooks.analyze("skipped", 0)
		return ""
	}

	ctx, span := tracer.Start(ctx, "incident.analyze")
	defer span.End()

	start := time.Now()
	res, err := analyze(ctx, e.analyzer, e.policy.AnalyzerTimeout, ev.RawText)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		ev.Analysis = AnalysisDegraded
		outcome := "error"
		if errors.Is(err, ErrAnalyzerTimeout) {
			outcome = "timeout"
		}
		span.SetAttributes(attribute.String("repute.analysis.outcome", outcome))
		span.RecordError(err)
		e.hooks.analyze(outcome, elapsed)
		e.logger.Warn(ctx, "claim analysis unavailable, scoring degraded",
			"mention_id", ev.ID,
			"outcome", outcome,
			"error", err.Error(),
		)
		return ""
	}

	span.SetAttributes(
		attribute.String("repute.analysis.outcome", "ok"),
		attribute.StringSlice("repute.analysis.flags", res.SeverityFlags),
	)
	e.hooks.analyze("ok", elapsed)
	ev.Analysis = AnalysisOK
	ev.ClaimSummary = strings.TrimSpace(res.ClaimSummary)
	ev.SeverityFlags = normalizeFlags(res.SeverityFlags)
	return strings.TrimSpace(res.ResponseDraft)
}

func normalizeFlags(flags []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// place makes one attempt at committing ev. A version conflict means another writer
// got there first and the caller should retry from fresh state.
func (e *Engine) place(ctx context.Context, ev MentionEvent, draft string) (*Incident, []AuditEntry, error) {
	cands, err := e.candidates(ctx, &ev)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range cands {
		inc, entries, err := e.attach(ctx, c.Incident.ID, ev, draft)
		if err != nil {
			return nil, nil, err
		}
		if inc != nil {
			return inc, entries, nil
		}
	}
	return e.create(ctx, ev, draft)
}

// candidates loads the incidents ev could join, best first. Closed incidents only
// qualify when ev would reopen them.
func (e *Engine) candidates(ctx context.Context, ev *MentionEvent) ([]Candidate, error) {
	open, err := e.store.LoadOpenIncidents(ctx, ev.Timestamp.Add(-e.policy.ReopenWindow))
	if err != nil {
		return nil, fmt.Errorf("%w: load open incidents: %w", ErrStoreUnavailable, err)
	}

	cands := e.clusterer.Candidates(ev, open)
	out := cands[:0]
	for _, c := range cands {
		if c.Incident.Status == StatusClosed && !e.reopens(c.Incident, ev) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// reopens reports whether adding ev to a closed incident would push it back to Monitoring.
func (e *Engine) reopens(inc *Incident, ev *MentionEvent) bool {
	if !e.lifecycle.CanReopen(inc, ev) {
		return false
	}
	trial := inc.Clone()
	trial.insertMention(*ev)
	trial.RiskScore, _ = e.scorer.Score(trial)
	_, ok := e.lifecycle.Next(trial, ev, e.clock())
	return ok
}

// attach adds ev to the incident with the given ID under its lock. It returns a nil
// incident when the incident no longer qualifies.
func (e *Engine) attach(ctx context.Context, id string, ev MentionEvent, draft string) (*Incident, []AuditEntry, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	cur, ok, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: get %s: %w", ErrStoreUnavailable, id, err)
	}
	if !ok {
		return nil, nil, nil
	}
	if cur.Status == StatusClosed && !e.reopens(cur, &ev) {
		return nil, nil, nil
	}

	work := cur.Clone()
	before := work.snapshot()
	if _, created := e.clusterer.Assign(ev, []*Incident{work}, "", time.Time{}); created {
		return nil, nil, nil
	}
	if draft != "" {
		work.ResponseDraft = draft
	}

	work.Version++
	batch := e.ledger.Begin(work)
	e.rescore(work, batch, before, ActorSystem, "mention "+ev.ID+" joined")
	if err := e.advance(work, batch, &ev); err != nil {
		return nil, nil, err
	}
	if err := e.save(ctx, work, batch); err != nil {
		return nil, nil, err
	}
	return work, batch.Entries(), nil
}

// create opens a new incident for ev. Creation is serialized, across processes when the
// store is a CreationGuard, and re-checks clustering so two similar mentions racing each
// other cannot both create incidents.
func (e *Engine) create(ctx context.Context, ev MentionEvent, draft string) (*Incident, []AuditEntry, error) {
	e.createMu.Lock()
	defer e.createMu.Unlock()

	if g, ok := e.store.(CreationGuard); ok {
		release, err := g.LockCreation(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: creation lock: %w", ErrStoreUnavailable, err)
		}
		defer release()
	}

	cands, err := e.candidates(ctx, &ev)
	if err != nil {
		return nil, nil, err
	}
	if len(cands) > 0 {
		return nil, nil, fmt.Errorf("%w: incident %s appeared for mention %s", ErrVersionConflict, cands[0].Incident.ID, ev.ID)
	}

	inc, _ := e.clusterer.Assign(ev, nil, e.newID(), e.clock())
	inc.ResponseDraft = draft
	inc.Version = 1

	batch := e.ledger.Begin(inc)
	e.rescore(inc, batch, Snapshot{}, ActorSystem, "incident opened by mention "+ev.ID)
	if err := e.advance(inc, batch, &ev); err != nil {
		return nil, nil, err
	}
	if err := e.save(ctx, inc, batch); err != nil {
		return nil, nil, err
	}
	return inc, batch.Entries(), nil
}

// rescore refreshes the score and stages the score-update entry.
func (e *Engine) rescore(inc *Incident, batch *Batch, before Snapshot, actor, reason string) {
	score, bd := e.scorer.Score(inc)
	inc.RiskScore = score
	inc.Breakdown = bd
	batch.Append(AuditEntry{
		Kind:      AuditScoreUpdate,
		Before:    before,
		After:     inc.snapshot(),
		Actor:     actor,
		Reason:    reason,
		Breakdown: &bd,
	})
}

// advance applies the automatic transition the lifecycle rules call for, if any.
func (e *Engine) advance(inc *Incident, batch *Batch, joined *MentionEvent) error {
	req, ok := e.lifecycle.Next(inc, joined, e.clock())
	if !ok {
		return nil
	}
	return e.transition(inc, batch, req)
}

func (e *Engine) transition(inc *Incident, batch *Batch, req TransitionRequest) error {
	before := inc.snapshot()
	if err := e.lifecycle.Transition(inc, req); err != nil {
		return err
	}
	batch.Append(AuditEntry{
		Kind:   AuditTransition,
		Before: before,
		After:  inc.snapshot(),
		Actor:  req.Actor,
		Reason: req.Reason,
	})
	return nil
}

// save commits the incident and its staged entries atomically.
func (e *Engine) save(ctx context.Context, inc *Incident, batch *Batch) error {
	if err := batch.Err(); err != nil {
		return err
	}
	err := e.store.Save(ctx, inc, batch.Entries())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("%w: save %s: %w", ErrStoreUnavailable, inc.ID, err)
	}
}

// load fetches an incident or fails with ErrNotFound.
func (e *Engine) load(ctx context.Context, id string) (*Incident, error) {
	inc, ok, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrStoreUnavailable, id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return inc, nil
}

func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// Recompute rescores an incident from its current mentions and applies any automatic
// transition that follows. It always records one score-update entry.
func (e *Engine) Recompute(ctx context.Context, id string) (*Incident, error) {
	ctx, span := tracer.Start(ctx, "incident.recompute", trace.WithAttributes(
		attribute.String("repute.incident.id", id),
	))
	defer span.End()

	unlock := e.locks.Lock(id)
	defer unlock()

	cur, err := e.load(ctx, id)
	if err != nil {
		return nil, spanError(span, err)
	}

	work := cur.Clone()
	work.Version++
	batch := e.ledger.Begin(work)
	e.rescore(work, batch, work.snapshot(), ActorSystem, "recompute")
	if err := e.advance(work, batch, nil); err != nil {
		return nil, spanError(span, err)
	}
	if err := e.save(ctx, work, batch); err != nil {
		e.logger.Error(ctx, err, "recompute failed", "incident_id", id)
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.Float64("repute.risk_score", work.RiskScore))

	e.hooks.committed(batch.Entries())
	e.escalate(ctx, work, batch.Entries())
	return work.Clone(), nil
}

// ApplyAnalystAction applies an explicit analyst decision. Invalid actions leave the
// incident and its ledger untouched.
func (e *Engine) ApplyAnalystAction(ctx context.Context, id string, act Action) (*Incident, error) {
	ctx, span := tracer.Start(ctx, "incident.action", trace.WithAttributes(
		attribute.String("repute.incident.id", id),
		attribute.String("repute.action.kind", string(act.Kind)),
	))
	defer span.End()

	L := e.logger.With("incident_id", id, "action", act.Kind, "actor", act.Actor)

	if err := act.Validate(); err != nil {
		L.Warn(ctx, "analyst action rejected", "error", err.Error())
		e.hooks.action(act.Kind, "rejected")
		return nil, spanError(span, err)
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	cur, err := e.load(ctx, id)
	if err != nil {
		e.hooks.action(act.Kind, "failed")
		return nil, spanError(span, err)
	}

	work := cur.Clone()
	work.Version++
	batch := e.ledger.Begin(work)

	at := e.clock()
	switch act.Kind {
	case ActionRespond:
		err = e.transition(work, batch, TransitionRequest{
			To:          StatusResponded,
			Cause:       CauseAnalyst,
			Actor:       act.Actor,
			Reason:      act.Reason,
			ResponseRef: act.ResponseRef,
			At:          at,
		})
	case ActionClose:
		err = e.transition(work, batch, TransitionRequest{
			To:     StatusClosed,
			Cause:  CauseAnalyst,
			Actor:  act.Actor,
			Reason: act.Reason,
			At:     at,
		})
	case ActionOverrideContext, ActionClearOverride:
		err = e.override(work, batch, act)
	}
	if err != nil {
		L.Warn(ctx, "analyst action rejected", "status", cur.Status, "error", err.Error())
		e.hooks.action(act.Kind, "rejected")
		return nil, spanError(span, err)
	}

	if err := e.save(ctx, work, batch); err != nil {
		L.Error(ctx, err, "analyst action not persisted")
		e.hooks.action(act.Kind, "failed")
		return nil, spanError(span, err)
	}

	e.hooks.action(act.Kind, "applied")
	e.hooks.committed(batch.Entries())
	L.Info(ctx, "analyst action applied", "status", work.Status, "risk_score", work.RiskScore)
	return work.Clone(), nil
}

// override records the analyst's context decision, rescores, and lets the lifecycle react.
func (e *Engine) override(inc *Incident, batch *Batch, act Action) error {
	before := inc.snapshot()
	reason := act.Reason
	if act.Kind == ActionClearOverride {
		if inc.ContextOverride == nil {
			return fmt.Errorf("%w: no context override to clear", ErrInvalidAction)
		}
		inc.ContextOverride = nil
		if reason == "" {
			reason = "context override cleared"
		}
	} else {
		v := *act.ContextSeverity
		inc.ContextOverride = &v
		if reason == "" {
			reason = fmt.Sprintf("context severity set to %.2f", v)
		}
	}

	batch.Append(AuditEntry{
		Kind:   AuditManualOverride,
		Before: before,
		After:  inc.snapshot(),
		Actor:  act.Actor,
		Reason: reason,
	})
	e.rescore(inc, batch, inc.snapshot(), act.Actor, "rescored after context override")
	return e.advance(inc, batch, nil)
}

// Sweep closes responded incidents whose quiet period has elapsed and returns how many
// were closed. Incidents that fail are logged and retried on the next sweep.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "incident.sweep")
	defer span.End()

	now := e.clock()
	open, err := e.store.LoadOpenIncidents(ctx, now)
	if err != nil {
		return 0, spanError(span, fmt.Errorf("%w: load open incidents: %w", ErrStoreUnavailable, err))
	}

	var closed int
	var errs []error
	for _, inc := range open {
		if !e.lifecycle.QuietExpired(inc, now) {
			continue
		}
		ok, err := e.expire(ctx, inc.ID, now)
		if err != nil {
			e.logger.Error(ctx, err, "quiet period close failed", "incident_id", inc.ID)
			errs = append(errs, err)
			continue
		}
		if ok {
			closed++
		}
	}

	span.SetAttributes(attribute.Int("repute.sweep.closed", closed))
	e.hooks.sweep(closed)
	if closed > 0 {
		e.logger.Info(ctx, "sweep closed quiet incidents", "closed", closed)
	}
	return closed, errors.Join(errs...)
}

func (e *Engine) expire(ctx context.Context, id string, now time.Time) (bool, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	cur, err := e.load(ctx, id)
	if err != nil {
		return false, err
	}
	if !e.lifecycle.QuietExpired(cur, now) {
		return false, nil
	}

	work := cur.Clone()
	work.Version++
	batch := e.ledger.Begin(work)
	err = e.transition(work, batch, TransitionRequest{
		To:     StatusClosed,
		Cause:  CauseAutomatic,
		Actor:  ActorSystem,
		Reason: fmt.Sprintf("no new mentions for %s after response", e.policy.QuietPeriod),
		At:     now,
	})
	if err != nil {
		return false, err
	}
	if err := e.save(ctx, work, batch); err != nil {
		return false, err
	}
	e.hooks.committed(batch.Entries())
	return true, nil
}

// Get returns a copy of the incident.
func (e *Engine) Get(ctx context.Context, id string) (*Incident, error) {
	return e.load(ctx, id)
}

// List returns incidents matching filter.
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]*Incident, error) {
	out, err := e.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrStoreUnavailable, err)
	}
	return out, nil
}

// Timeline returns the incident's audit trail ordered by sequence.
func (e *Engine) Timeline(ctx context.Context, id string) ([]AuditEntry, error) {
	if _, err := e.load(ctx, id); err != nil {
		return nil, err
	}
	return e.ledger.Query(ctx, id)
}

// Verify checks the incident's audit chain.
func (e *Engine) Verify(ctx context.Context, id string) error {
	if _, err := e.load(ctx, id); err != nil {
		return err
	}
	return e.ledger.Verify(ctx, id)
}

// escalate notifies about automatic moves into Monitoring. Delivery is asynchronous
// and detached from the request context.
func (e *Engine) escalate(ctx context.Context, inc *Incident, entries []AuditEntry) {
	if e.notifier == nil {
		return
	}
	for n := range entries {
		en := &entries[n]
		if en.Kind != AuditTransition || en.Actor != ActorSystem || en.After.Status != StatusMonitoring {
			continue
		}
		esc := &Escalation{
			Incident: inc.Clone(),
			From:     en.Before.Status,
			To:       en.After.Status,
			Reason:   en.Reason,
		}
		e.notifyWG.Add(1)
		go func() {
			defer e.notifyWG.Done()
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			if err := e.notifier.Notify(nctx, esc); err != nil {
				e.logger.Error(nctx, err, "escalation notification failed", "incident_id", esc.Incident.ID)
			}
		}()
	}
}

// Wait blocks until in-flight notifications finish.
func (e *Engine) Wait() {
	e.notifyWG.Wait()
}

func reopened(entries []AuditEntry) bool {
	for _, en := range entries {
		if en.Kind == AuditTransition && en.Before.Status == StatusClosed {
			return true
		}
	}
	return false
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
