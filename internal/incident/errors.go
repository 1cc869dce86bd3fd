package incident

import "github.com/linnemanlabs/go-core/xerrors"

var (
	// ErrMalformedPayload means a raw payload lacked required fields.
	ErrMalformedPayload = xerrors.New("malformed payload")

	// ErrInvalidSourceKind means the payload named an unknown source kind.
	ErrInvalidSourceKind = xerrors.New("invalid source kind")

	// ErrInvalidTransition means the lifecycle rules do not allow the requested move.
	ErrInvalidTransition = xerrors.New("invalid transition")

	// ErrInvalidAction means an analyst action was incomplete or unknown.
	ErrInvalidAction = xerrors.New("invalid analyst action")

	// ErrAnalyzerTimeout is recorded when the claim analyzer did not answer in time.
	// It never reaches callers of the Engine; scoring degrades instead.
	ErrAnalyzerTimeout = xerrors.New("claim analyzer timeout")

	// ErrStoreUnavailable wraps every persistence failure surfaced by the Engine.
	ErrStoreUnavailable = xerrors.New("incident store unavailable")

	// ErrNotFound means no incident exists with the given ID.
	ErrNotFound = xerrors.New("incident not found")

	// ErrVersionConflict is returned by stores when a compare-and-set on the incident version fails.
	ErrVersionConflict = xerrors.New("incident version conflict")

	// ErrLedgerTampered means an audit chain no longer verifies.
	ErrLedgerTampered = xerrors.New("audit ledger chain broken")
)
