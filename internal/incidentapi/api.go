// Package incidentapi exposes the incident engine over HTTP.
package incidentapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/repute/internal/incident"
)

// Engine defines the business operations incidentapi needs.
type Engine interface {
	IngestFrom(ctx context.Context, src incident.MentionSource) (*incident.Incident, error)
	Get(ctx context.Context, id string) (*incident.Incident, error)
	List(ctx context.Context, filter incident.ListFilter) ([]*incident.Incident, error)
	Timeline(ctx context.Context, id string) ([]incident.AuditEntry, error)
	Verify(ctx context.Context, id string) error
	Recompute(ctx context.Context, id string) (*incident.Incident, error)
	ApplyAnalystAction(ctx context.Context, id string, act incident.Action) (*incident.Incident, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	engine Engine
}

// New creates a new API handler.
func New(logger log.Logger, engine Engine) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if engine == nil {
		panic(xerrors.New("incident engine is required"))
	}
	return &API{
		logger: logger,
		engine: engine,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/mentions/{source}", a.handleIngestMention)
		r.Get("/incidents", a.handleListIncidents)
		r.Route("/incidents/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetIncident)
			r.Get("/audit", a.handleAuditTrail)
			r.Get("/verify", a.handleVerify)
			r.Post("/recompute", a.handleRecompute)
			r.Post("/actions", a.handleAction)
		})
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, incident.ErrMalformedPayload),
		errors.Is(err, incident.ErrInvalidSourceKind),
		errors.Is(err, incident.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, incident.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, incident.ErrInvalidTransition),
		errors.Is(err, incident.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, incident.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError logs server-side failures and reports every error as JSON.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if status >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, msg, "status", status)
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	writeJSON(w, status, body)
}
