package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/amep/internal/adapters/repository"
	"github.com/okian/amep/internal/domain/ingest"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/pkg/logger"
)

// EngagementDependencies defines the engine operations behind the engagement routes.
type EngagementDependencies interface {
	AnalyzeEngagement(ctx context.Context, raw ingest.RawEngagement) (model.EngagementResult, error)
	StudentEngagement(ctx context.Context, studentID string) (*model.EngagementState, error)
	ClassEngagement(ctx context.Context, classID string) (model.ClassEngagement, error)
}

// EngagementHandler handles engagement requests.
type EngagementHandler struct {
	deps   EngagementDependencies
	logger logger.Logger
}

// NewEngagementHandler creates a new engagement handler.
func NewEngagementHandler(deps EngagementDependencies, l logger.Logger) *EngagementHandler {
	return &EngagementHandler{deps: deps, logger: l}
}

// HandleAnalyze handles POST /api/engagement/analyze.
func (h *EngagementHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	const op = "api.engagement_analyze"
	var req ingest.RawEngagement
	if err := decode(w, r, op, &req); err != nil {
		fail(r.Context(), w, h.logger, err)
		return
	}
	res, err := h.deps.AnalyzeEngagement(r.Context(), req)
	if err != nil {
		if errors.Is(err, repository.ErrConcurrencyTimeout) {
			writeJSON(w, http.StatusAccepted, retryResponse{Result: res, Retry: true})
			return
		}
		fail(r.Context(), w, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleStudent handles GET /api/engagement/student/{id}.
func (h *EngagementHandler) HandleStudent(w http.ResponseWriter, r *http.Request) {
	const op = "api.engagement_student"
	id, err := pathID(r, op)
	if err != nil {
		fail(r.Context(), w, h.logger, err)
		return
	}
	st, err := h.deps.StudentEngagement(r.Context(), id)
	if err != nil {
		fail(r.Context(), w, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleClass handles GET /api/engagement/class/{id}.
func (h *EngagementHandler) HandleClass(w http.ResponseWriter, r *http.Request) {
	const op = "api.engagement_class"
	id, err := pathID(r, op)
	if err != nil {
		fail(r.Context(), w, h.logger, err)
		return
	}
	agg, err := h.deps.ClassEngagement(r.Context(), id)
	if err != nil {
		fail(r.Context(), w, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, agg)
}
