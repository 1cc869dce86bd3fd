package incidentapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/repute/internal/incident"
	"github.com/linnemanlabs/repute/internal/source"
)

type ingestResponse struct {
	Created  bool               `json:"created"`
	Incident *incident.Incident `json:"incident"`
}

func (a *API) handleIngestMention(w http.ResponseWriter, r *http.Request) {
	kind := incident.SourceKind(chi.URLParam(r, "source"))

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("repute.mention.source", string(kind)))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeError(w, r, fmt.Errorf("read body: %w", err), "failed to read mention")
		return
	}

	src, err := source.Decode(kind, body)
	if err != nil {
		a.writeError(w, r, err, "failed to decode mention")
		return
	}

	inc, err := a.engine.IngestFrom(r.Context(), src)
	if err != nil {
		a.writeError(w, r, err, "failed to ingest mention")
		return
	}

	span.SetAttributes(attribute.String("repute.incident.id", inc.ID))

	created := inc.Version == 1
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ingestResponse{Created: created, Incident: inc})
}
