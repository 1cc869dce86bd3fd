package incidentapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/repute/internal/incident"
)

const maxListLimit = 500

// incidentID reads the {id} URL parameter and tags the request span with it.
func incidentID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("repute.incident.id", id))
	return id
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := incident.ListFilter{Status: incident.Status(q.Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		a.writeError(w, r, fmt.Errorf("%w: unknown status %q", incident.ErrMalformedPayload, filter.Status), "bad list filter")
		return
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxListLimit {
			a.writeError(w, r, fmt.Errorf("%w: limit must be between 1 and %d", incident.ErrMalformedPayload, maxListLimit), "bad list filter")
			return
		}
		filter.Limit = n
	}

	out, err := a.engine.List(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err, "failed to list incidents")
		return
	}
	if out == nil {
		out = []*incident.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": out})
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := a.engine.Get(r.Context(), incidentID(r))
	if err != nil {
		a.writeError(w, r, err, "failed to get incident")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("repute.incident.status", string(inc.Status)))
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := a.engine.Timeline(r.Context(), incidentID(r))
	if err != nil {
		a.writeError(w, r, err, "failed to load audit trail")
		return
	}
	if entries == nil {
		entries = []incident.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type verifyResponse struct {
	ID    string `json:"id"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := incidentID(r)
	err := a.engine.Verify(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, verifyResponse{ID: id, Valid: true})
	case errors.Is(err, incident.ErrLedgerTampered):
		a.logger.Warn(r.Context(), "audit ledger failed verification", "incident_id", id, "error", err.Error())
		writeJSON(w, http.StatusOK, verifyResponse{ID: id, Valid: false, Error: err.Error()})
	default:
		a.writeError(w, r, err, "failed to verify audit ledger")
	}
}

func (a *API) handleRecompute(w http.ResponseWriter, r *http.Request) {
	inc, err := a.engine.Recompute(r.Context(), incidentID(r))
	if err != nil {
		a.writeError(w, r, err, "failed to recompute incident")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleAction(w http.ResponseWriter, r *http.Request) {
	id := incidentID(r)

	var act incident.Action
	if err := json.NewDecoder(r.Body).Decode(&act); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: decode action: %w", incident.ErrInvalidAction, err), "bad analyst action")
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("repute.action.kind", string(act.Kind)))

	inc, err := a.engine.ApplyAnalystAction(r.Context(), id, act)
	if err != nil {
		a.writeError(w, r, err, "failed to apply analyst action")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}
