// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/repute/internal/incident"
	"github.com/linnemanlabs/repute/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/repute/internal/incident/pgstore")

//go:embed migrations/*.sql
var migrations embed.FS

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// creationLockKey is the session advisory lock that serializes incident creation
// across server replicas.
const creationLockKey int64 = 0x72657075 // "repu"

// Store persists incidents, mentions and audit entries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ incident.Store         = (*Store)(nil)
	_ incident.CreationGuard = (*Store)(nil)
)

// New applies pending migrations and returns a Store on pool. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations fs: %w", err)
	}
	if _, err := postgres.Migrate(ctx, pool, sub); err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

const incidentColumns = `id, title, status, created_at, last_transition_at, risk_score, breakdown,
	closed_reason, closed_at, responded_at, response_ref, response_draft, context_override,
	version, ledger_head, ledger_seq`

const mentionColumns = `incident_id, id, source, source_id, credibility_weight, occurred_at, raw_text,
	url, claim_summary, severity_flags, analysis, reach_estimate`

// Get retrieves an incident with its mentions.
func (s *Store) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	inc, err := scanIncident(s.pool.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if inc == nil {
		return nil, false, nil
	}
	if err := s.loadMentions(ctx, map[string]*incident.Incident{inc.ID: inc}); err != nil {
		return nil, false, fail(span, err)
	}
	return inc, true, nil
}

// LoadOpenIncidents returns every non-closed incident and closed incidents closed at or
// after closedSince.
func (s *Store) LoadOpenIncidents(ctx context.Context, closedSince time.Time) ([]*incident.Incident, error) {
	ctx, span := startSpan(ctx, "pgstore.LoadOpenIncidents", "SELECT")
	defer span.End()

	out, err := s.queryIncidents(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE status <> $1 OR closed_at >= $2
		 ORDER BY created_at, id`,
		string(incident.StatusClosed), closedSince,
	)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("repute.incidents", len(out)))
	return out, nil
}

// List returns incidents matching filter, most recently transitioned first.
func (s *Store) List(ctx context.Context, filter incident.ListFilter) ([]*incident.Incident, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	out, err := s.queryIncidents(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY last_transition_at DESC, id
		 LIMIT $2`,
		string(filter.Status), limit,
	)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// Save writes inc, its mentions and entries in one transaction. The incident row is
// compare-and-set on version so a concurrent writer turns into ErrVersionConflict.
func (s *Store) Save(ctx context.Context, inc *incident.Incident, entries []incident.AuditEntry) error {
	ctx, span := startSpan(ctx, "pgstore.Save", "UPSERT")
	defer span.End()
	span.SetAttributes(
		attribute.String("repute.incident_id", inc.ID),
		attribute.Int("repute.version", inc.Version),
		attribute.Int("repute.entries", len(entries)),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := writeIncident(ctx, tx, inc); err != nil {
		return fail(span, err)
	}
	if err := writeMentions(ctx, tx, inc); err != nil {
		return fail(span, err)
	}
	if err := insertEntries(ctx, tx, entries); err != nil {
		return fail(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// LockCreation takes the creation advisory lock on a dedicated connection. The lock is
// held until release is called.
func (s *Store) LockCreation(ctx context.Context) (func(), error) {
	ctx, span := startSpan(ctx, "pgstore.LockCreation", "SELECT")
	defer span.End()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("acquire conn: %w", err))
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, creationLockKey); err != nil {
		conn.Release()
		return nil, fail(span, fmt.Errorf("advisory lock: %w", err))
	}

	unlockCtx := context.WithoutCancel(ctx)
	return func() {
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, creationLockKey); err != nil {
			// a session lock must not return to the pool still held
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}, nil
}

// AuditTrail returns the incident's entries ordered by sequence.
func (s *Store) AuditTrail(ctx context.Context, incidentID string) ([]incident.AuditEntry, error) {
	ctx, span := startSpan(ctx, "pgstore.AuditTrail", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, incident_id, seq, recorded_at, kind, before_state, after_state, actor, reason,
		        breakdown, prev_hash, hash
		 FROM audit_entries WHERE incident_id = $1 ORDER BY seq`,
		incidentID,
	)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query audit entries: %w", err))
	}
	defer rows.Close()

	var out []incident.AuditEntry
	for rows.Next() {
		var (
			e             incident.AuditEntry
			kind          string
			before, after []byte
			breakdown     []byte
		)
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.Seq, &e.Timestamp, &kind, &before, &after,
			&e.Actor, &e.Reason, &breakdown, &e.PrevHash, &e.Hash); err != nil {
			return nil, fail(span, fmt.Errorf("scan audit entry: %w", err))
		}
		e.Kind = incident.AuditKind(kind)
		e.Timestamp = e.Timestamp.UTC()
		if err := json.Unmarshal(before, &e.Before); err != nil {
			return nil, fail(span, fmt.Errorf("unmarshal before seq %d: %w", e.Seq, err))
		}
		if err := json.Unmarshal(after, &e.After); err != nil {
			return nil, fail(span, fmt.Errorf("unmarshal after seq %d: %w", e.Seq, err))
		}
		if breakdown != nil {
			e.Breakdown = &incident.Breakdown{}
			if err := json.Unmarshal(breakdown, e.Breakdown); err != nil {
				return nil, fail(span, fmt.Errorf("unmarshal breakdown seq %d: %w", e.Seq, err))
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate audit entries: %w", err))
	}
	return out, nil
}

func (s *Store) queryIncidents(ctx context.Context, sql string, args ...any) ([]*incident.Incident, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []*incident.Incident
	byID := make(map[string]*incident.Incident)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
		byID[inc.ID] = inc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	rows.Close()

	if err := s.loadMentions(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

// loadMentions fills the Mentions of every incident in byID, in stored position order.
func (s *Store) loadMentions(ctx context.Context, byID map[string]*incident.Incident) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+mentionColumns+` FROM mentions
		 WHERE incident_id = ANY($1) ORDER BY incident_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("query mentions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			incidentID string
			m          incident.MentionEvent
			source     string
			analysis   string
		)
		if err := rows.Scan(&incidentID, &m.ID, &source, &m.SourceID, &m.CredibilityWeight, &m.Timestamp,
			&m.RawText, &m.URL, &m.ClaimSummary, &m.SeverityFlags, &analysis, &m.ReachEstimate); err != nil {
			return fmt.Errorf("scan mention: %w", err)
		}
		m.Source = incident.SourceKind(source)
		m.Analysis = incident.AnalysisStatus(analysis)
		m.Timestamp = m.Timestamp.UTC()
		if len(m.SeverityFlags) == 0 {
			m.SeverityFlags = nil
		}
		if inc := byID[incidentID]; inc != nil {
			inc.Mentions = append(inc.Mentions, m)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate mentions: %w", err)
	}
	return nil
}

func writeIncident(ctx context.Context, tx pgx.Tx, inc *incident.Incident) error {
	breakdown, err := json.Marshal(inc.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}

	args := []any{
		inc.ID, inc.Title, string(inc.Status), inc.CreatedAt, inc.LastTransitionAt, inc.RiskScore, breakdown,
		inc.ClosedReason, nullTime(inc.ClosedAt), nullTime(inc.RespondedAt), inc.ResponseRef, inc.ResponseDraft,
		inc.ContextOverride, inc.Version, inc.LedgerHead, inc.LedgerSeq,
	}

	var tag pgconn.CommandTag
	if inc.Version == 1 {
		tag, err = tx.Exec(ctx,
			`INSERT INTO incidents (`+incidentColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			 ON CONFLICT (id) DO NOTHING`,
			args...,
		)
	} else {
		tag, err = tx.Exec(ctx,
			`UPDATE incidents SET
				title              = $2,
				status             = $3,
				created_at         = $4,
				last_transition_at = $5,
				risk_score         = $6,
				breakdown          = $7,
				closed_reason      = $8,
				closed_at          = $9,
				responded_at       = $10,
				response_ref       = $11,
				response_draft     = $12,
				context_override   = $13,
				version            = $14,
				ledger_head        = $15,
				ledger_seq         = $16
			 WHERE id = $1 AND version = $14 - 1`,
			args...,
		)
	}
	if err != nil {
		return fmt.Errorf("write incident %s: %w", inc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s version %d", incident.ErrVersionConflict, inc.ID, inc.Version)
	}
	return nil
}

// writeMentions upserts every mention with its current position. Mentions never leave an
// incident, but inserting an out-of-order mention shifts the positions after it.
func writeMentions(ctx context.Context, tx pgx.Tx, inc *incident.Incident) error {
	batch := &pgx.Batch{}
	for pos := range inc.Mentions {
		m := &inc.Mentions[pos]
		flags := m.SeverityFlags
		if flags == nil {
			flags = []string{}
		}
		batch.Queue(
			`INSERT INTO mentions (position, `+mentionColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			 ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position
			 WHERE mentions.incident_id = EXCLUDED.incident_id`,
			pos, inc.ID, m.ID, string(m.Source), m.SourceID, m.CredibilityWeight, m.Timestamp, m.RawText,
			m.URL, m.ClaimSummary, flags, string(m.Analysis), m.ReachEstimate,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for n := range inc.Mentions {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("write mention %s: %w", inc.Mentions[n].ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("write mentions: %w", err)
	}
	return nil
}

func insertEntries(ctx context.Context, tx pgx.Tx, entries []incident.AuditEntry) error {
	for n := range entries {
		e := &entries[n]
		before, err := json.Marshal(e.Before)
		if err != nil {
			return fmt.Errorf("marshal before seq %d: %w", e.Seq, err)
		}
		after, err := json.Marshal(e.After)
		if err != nil {
			return fmt.Errorf("marshal after seq %d: %w", e.Seq, err)
		}
		var breakdown []byte
		if e.Breakdown != nil {
			if breakdown, err = json.Marshal(e.Breakdown); err != nil {
				return fmt.Errorf("marshal breakdown seq %d: %w", e.Seq, err)
			}
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO audit_entries (id, incident_id, seq, recorded_at, kind, before_state, after_state,
				actor, reason, breakdown, prev_hash, hash)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			e.ID, e.IncidentID, e.Seq, e.Timestamp, string(e.Kind), before, after,
			e.Actor, e.Reason, breakdown, e.PrevHash, e.Hash,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return fmt.Errorf("%w: audit seq %d already taken for %s", incident.ErrVersionConflict, e.Seq, e.IncidentID)
			}
			return fmt.Errorf("insert audit entry seq %d: %w", e.Seq, err)
		}
	}
	return nil
}

// scanIncident scans one incident row without mentions. Returns (nil, nil) when no row is found.
func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var (
		inc         incident.Incident
		status      string
		breakdown   []byte
		closedAt    *time.Time
		respondedAt *time.Time
	)
	err := row.Scan(
		&inc.ID, &inc.Title, &status, &inc.CreatedAt, &inc.LastTransitionAt, &inc.RiskScore, &breakdown,
		&inc.ClosedReason, &closedAt, &respondedAt, &inc.ResponseRef, &inc.ResponseDraft,
		&inc.ContextOverride, &inc.Version, &inc.LedgerHead, &inc.LedgerSeq,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	inc.Status = incident.Status(status)
	inc.CreatedAt = inc.CreatedAt.UTC()
	inc.LastTransitionAt = inc.LastTransitionAt.UTC()
	if closedAt != nil {
		inc.ClosedAt = closedAt.UTC()
	}
	if respondedAt != nil {
		inc.RespondedAt = respondedAt.UTC()
	}
	if err := json.Unmarshal(breakdown, &inc.Breakdown); err != nil {
		return nil, fmt.Errorf("unmarshal breakdown %s: %w", inc.ID, err)
	}
	return &inc, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
