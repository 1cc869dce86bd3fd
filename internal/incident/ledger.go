package incident

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Ledger is the append-only audit log. Entries are chained per incident with
// SHA-256 so any edit or deletion breaks verification.
type Ledger struct {
	store Store
	now   func() time.Time
}

// NewLedger creates a ledger reading from store.
func NewLedger(store Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

// Batch stages entries for one incident. Staged entries become durable only when
// the engine saves them together with the incident.
type Batch struct {
	inc     *Incident
	now     func() time.Time
	entries []AuditEntry
	err     error
}

// Begin starts a batch continuing inc's chain. Appending advances inc's ledger head.
func (l *Ledger) Begin(inc *Incident) *Batch {
	return &Batch{inc: inc, now: l.now}
}

// Append chains e onto the incident's ledger and returns its ID.
func (b *Batch) Append(e AuditEntry) string {
	e.ID = ulid.Make().String()
	e.IncidentID = b.inc.ID
	e.Seq = b.inc.LedgerSeq + 1
	e.Timestamp = b.now().UTC().Truncate(time.Microsecond)
	if e.Actor == "" {
		e.Actor = ActorSystem
	}
	e.PrevHash = b.inc.LedgerHead
	hash, err := digest(&e)
	if err != nil {
		if b.err == nil {
			b.err = fmt.Errorf("audit entry %d for %s: %w", e.Seq, e.IncidentID, err)
		}
		return e.ID
	}
	e.Hash = hash

	b.inc.LedgerSeq = e.Seq
	b.inc.LedgerHead = e.Hash
	b.entries = append(b.entries, e)
	return e.ID
}

// Entries returns the staged entries in append order.
func (b *Batch) Entries() []AuditEntry {
	return b.entries
}

// Err reports the first entry that could not be hashed. A batch with an error
// must not be committed.
func (b *Batch) Err() error {
	return b.err
}

// Len returns the number of staged entries.
func (b *Batch) Len() int {
	return len(b.entries)
}

// Query returns the incident's audit trail ordered by sequence.
func (l *Ledger) Query(ctx context.Context, incidentID string) ([]AuditEntry, error) {
	entries, err := l.store.AuditTrail(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("%w: audit trail: %w", ErrStoreUnavailable, err)
	}
	return entries, nil
}

// Verify recomputes the incident's hash chain.
func (l *Ledger) Verify(ctx context.Context, incidentID string) error {
	entries, err := l.Query(ctx, incidentID)
	if err != nil {
		return err
	}
	return VerifyChain(entries)
}

// VerifyChain checks sequence continuity and hash links of one incident's entries.
func VerifyChain(entries []AuditEntry) error {
	prev := ""
	for n := range entries {
		e := &entries[n]
		if e.Seq != n+1 {
			return fmt.Errorf("%w: entry %s has seq %d, want %d", ErrLedgerTampered, e.ID, e.Seq, n+1)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %s does not link to its predecessor", ErrLedgerTampered, e.ID)
		}
		got, err := digest(e)
		if err != nil {
			return fmt.Errorf("%w: entry %s: %w", ErrLedgerTampered, e.ID, err)
		}
		if got != e.Hash {
			return fmt.Errorf("%w: entry %s hash mismatch", ErrLedgerTampered, e.ID)
		}
		prev = e.Hash
	}
	return nil
}

// digest hashes the previous hash together with the canonical form of the entry.
func digest(e *AuditEntry) (string, error) {
	body := struct {
		ID         string     `json:"id"`
		IncidentID string     `json:"incident_id"`
		Seq        int        `json:"seq"`
		Timestamp  time.Time  `json:"timestamp"`
		Kind       AuditKind  `json:"kind"`
		Before     Snapshot   `json:"before"`
		After      Snapshot   `json:"after"`
		Actor      string     `json:"actor"`
		Reason     string     `json:"reason"`
		Breakdown  *Breakdown `json:"breakdown"`
	}{e.ID, e.IncidentID, e.Seq, e.Timestamp.UTC(), e.Kind, e.Before, e.After, e.Actor, e.Reason, e.Breakdown}

	data, err := json.Marshal(map[string]any{"prev": e.PrevHash, "data": body})
	if err != nil {
		return "", fmt.Errorf("canonical encoding: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
