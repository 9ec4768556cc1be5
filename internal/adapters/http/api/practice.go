package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/amep/internal/domain/ingest"
	"github.com/okian/amep/internal/domain/model"
	"github.com/okian/amep/internal/domain/planner"
	"github.com/okian/amep/pkg/logger"
)

// PracticeDependencies defines the engine operation behind the practice route.
type PracticeDependencies interface {
	GeneratePractice(ctx context.Context, raw ingest.RawPlan) (model.PracticeSession, error)
}

// PracticeHandler handles practice session requests.
type PracticeHandler struct {
	deps   PracticeDependencies
	logger logger.Logger
}

// NewPracticeHandler creates a new practice handler.
func NewPracticeHandler(deps PracticeDependencies, l logger.Logger) *PracticeHandler {
	return &PracticeHandler{deps: deps, logger: l}
}

type insufficientResponse struct {
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Session model.PracticeSession `json:"session"`
}

// HandleGenerate handles POST /api/practice/generate. A subject with no
// fitting content is reported as 422 together with the empty session.
func (h *PracticeHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	const op = "api.practice_generate"
	var req ingest.RawPlan
	if err := decode(w, r, op, &req); err != nil {
		fail(r.Context(), w, h.logger, err)
		return
	}
	session, err := h.deps.GeneratePractice(r.Context(), req)
	if err != nil {
		if errors.Is(err, planner.ErrInsufficientContent) {
			writeJSON(w, http.StatusUnprocessableEntity, insufficientResponse{
				Code:    "insufficient_content",
				Message: err.Error(),
				Session: session,
			})
			return
		}
		fail(r.Context(), w, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, session)
}
