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

// MasteryDependencies defines the engine operations behind the mastery routes.
type MasteryDependencies interface {
	UpdateMastery(ctx context.Context, raw ingest.RawResponse) (model.MasteryResult, error)
	Submit(ctx context.Context, raw ingest.RawResponse) (bool, error)
	StudentMastery(ctx context.Context, studentID string) ([]model.MasteryResult, error)
	EndSession(ctx context.Context, studentID string) (int, error)
}

// MasteryHandler handles mastery requests.
type MasteryHandler struct {
	deps   MasteryDependencies
	logger logger.Logger
}

// NewMasteryHandler creates a new mastery handler.
func NewMasteryHandler(deps MasteryDependencies, l logger.Logger) *MasteryHandler {
	return &MasteryHandler{deps: deps, logger: l}
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type studentMasteryResponse struct {
	StudentID string                `json:"student_id"`
	Concepts  []model.MasteryResult `json:"concepts"`
}

type endSessionRequest struct {
	StudentID string `json:"student_id"`
}

type endSessionResponse struct {
	StudentID string `json:"student_id"`
	Archived  int    `json:"archived"`
}

// HandleCalculate handles POST /api/mastery/calculate.
func (h *MasteryHandler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	const op = "api.mastery_calculate"
	var req ingest.RawResponse
	if err := decode(w, r, op, &req); err != nil {
		fail(r.Context(), w, h.logger, err)
		return
	}
	res, err := h.deps.UpdateMastery(r.Context(), req)
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

// HandleSubmitEvent handles POST /api/events. Events are applied
// asynchronously and deduplicated by event_id.
func (h *MasteryHandler) HandleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	var req ingest.RawResponse
	if err := decode(w, r, op, &req); err != nil {
		fail(r.Context(), w, h.logger, err)
		return
	}
	duplicate, err := h.deps.Submit(r.Context(), req)
	if err != nil {
		fail(r.Context(), w, h.logger, Wrap(op, err))
		return
	}
	if duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

// HandleStudentMastery handles GET /api/mastery/student/{id}.
func (h *MasteryHandler) HandleStudentMastery(w http.ResponseWriter, r *http.Request) {
	const op = "api.mastery_student"
	id, err := pathID(r, op)
	if err != nil {
		fail(r.Context(), w, h.logger, err)
		return
	}
	concepts, err := h.deps.StudentMastery(r.Context(), id)
	if err != nil {
		fail(r.Context(), w, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, studentMasteryResponse{StudentID: id, Concepts: concepts})
}

// HandleEndSession handles POST /api/sessions/end.
func (h *MasteryHandler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.end_session"
	var req endSessionRequest
	if err := decode(w, r, op, &req); err != nil {
		fail(r.Context(), w, h.logger, err)
		return
	}
	if req.StudentID == "" {
		fail(r.Context(), w, h.logger, WrapKind(op, ErrBadRequest, errors.New("missing student_id")))
		return
	}
	n, err := h.deps.EndSession(r.Context(), req.StudentID)
	if err != nil {
		fail(r.Context(), w, h.logger, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, endSessionResponse{StudentID: req.StudentID, Archived: n})
}
