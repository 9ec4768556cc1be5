package api

import (
	"context"
	"net/http"

	"github.com/okian/amep/internal/domain/ingest"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
)

// InterventionDependencies defines the engine operations behind the intervention routes.
type InterventionDependencies interface {
	TrackIntervention(ctx context.Context, raw ingest.RawIntervention) (model.InterventionRecord, error)
	InterventionImpact(ctx context.Context, id string) (model.InterventionImpact, error)
}

// InterventionHandler handles intervention requests.
type InterventionHandler struct {
	deps   InterventionDependencies
	logger logger.Logger
}

// NewInterventionHandler creates a new intervention handler.
func NewInterventionHandler(deps InterventionDependencies, l logger.Logger) *InterventionHandler {
	return &InterventionHandler{deps: deps, logger: l}
}

// HandleTrack handles POST /api/interventions/track.
func (h *InterventionHandler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	const op = "api.interventions_track"
	var req ingest.RawIntervention
	if err := decode(w, r, op, &req); err != nil {
		fail(r.Context(), w, h.logger, err)
		return
	}
	rec, err := h.deps.TrackIntervention(r.Context(), req)
	if err != nil {
		fail(r.Context(), w, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// HandleImpact handles GET /api/interventions/{id}/impact.
func (h *InterventionHandler) HandleImpact(w http.ResponseWriter, r *http.Request) {
	const op = "api.interventions_impact"
	id, err := pathID(r, op)
	if err != nil {
		fail(r.Context(), w, h.logger, err)
		return
	}
	impact, err := h.deps.InterventionImpact(r.Context(), id)
	if err != nil {
		fail(r.Context(), w, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, impact)
}
