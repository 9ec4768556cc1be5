// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	eventqueue "github.com/okian/amep/internal/adapters/mq/queue"
	"github.com/okian/amep/internal/adapters/repository"
	"github.com/okian/amep/internal/domain/ingest"
	"github.com/okian/amep/internal/domain/planner"
	"github.com/okian/amep/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the engine.
type Dependencies interface {
	MasteryDependencies
	EngagementDependencies
	PracticeDependencies
	InterventionDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	masteryHandler      *MasteryHandler
	engagementHandler   *EngagementHandler
	practiceHandler     *PracticeHandler
	interventionHandler *InterventionHandler
	healthHandler       *HealthHandler
	statsHandler        *StatsHandler

	notifications http.Handler
	limiter       *rate.Limiter
	logger        logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit limits the ingest endpoints to rps requests per second with
// the given burst. Non-positive values disable limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithNotifications mounts h at /ws.
func WithNotifications(h http.Handler) Option {
	return func(s *Server) { s.notifications = h }
}

// WithLogger sets the logger used for unexpected failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{logger: logger.Named("api")}
	for _, opt := range opts {
		opt(s)
	}
	s.masteryHandler = NewMasteryHandler(deps, s.logger)
	s.engagementHandler = NewEngagementHandler(deps, s.logger)
	s.practiceHandler = NewPracticeHandler(deps, s.logger)
	s.interventionHandler = NewInterventionHandler(deps, s.logger)
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(statsProvider)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	ingestRoute := func(h http.HandlerFunc, endpoint string) http.HandlerFunc {
		return MetricsMiddleware(RateLimit(h, s.limiter), endpoint)
	}

	mux.HandleFunc("POST /api/mastery/calculate", ingestRoute(s.masteryHandler.HandleCalculate, "mastery_calculate"))
	mux.HandleFunc("POST /api/events", ingestRoute(s.masteryHandler.HandleSubmitEvent, "events"))
	mux.HandleFunc("GET /api/mastery/student/{id}", MetricsMiddleware(s.masteryHandler.HandleStudentMastery, "mastery_student"))
	mux.HandleFunc("POST /api/sessions/end", ingestRoute(s.masteryHandler.HandleEndSession, "sessions_end"))

	mux.HandleFunc("POST /api/engagement/analyze", ingestRoute(s.engagementHandler.HandleAnalyze, "engagement_analyze"))
	mux.HandleFunc("GET /api/engagement/student/{id}", MetricsMiddleware(s.engagementHandler.HandleStudent, "engagement_student"))
	mux.HandleFunc("GET /api/engagement/class/{id}", MetricsMiddleware(s.engagementHandler.HandleClass, "engagement_class"))

	mux.HandleFunc("POST /api/practice/generate", ingestRoute(s.practiceHandler.HandleGenerate, "practice_generate"))

	mux.HandleFunc("POST /api/interventions/track", ingestRoute(s.interventionHandler.HandleTrack, "interventions_track"))
	mux.HandleFunc("GET /api/interventions/{id}/impact", MetricsMiddleware(s.interventionHandler.HandleImpact, "interventions_impact"))

	mux.HandleFunc("GET /api/health", MetricsMiddleware(s.healthHandler.HandleHealth, "health"))
	mux.Handle("GET /metrics", s.healthHandler.Metrics())
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	if s.notifications != nil {
		mux.Handle("GET /ws", s.notifications)
	}
}

type errorResponse struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  []ingest.FieldError `json:"fields,omitempty"`
}

// retryResponse is returned with 202 when a lock could not be taken in time.
// Result holds the last committed state.
type retryResponse struct {
	Result any  `json:"result"`
	Retry  bool `json:"retry"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	resp := errorResponse{Code: code, Message: msg}
	var verr *ingest.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body of at most maxBodyBytes into v.
func decode(w http.ResponseWriter, r *http.Request, op string, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

// pathID returns the {id} path value.
func pathID(r *http.Request, op string) (string, error) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		return "", NewKind(op, ErrMissingID)
	}
	return id, nil
}

// classify maps engine errors to a status code and an error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrMissingID), errors.Is(err, ingest.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, planner.ErrInsufficientContent):
		return http.StatusUnprocessableEntity, "insufficient_content"
	case errors.Is(err, repository.ErrConcurrencyTimeout):
		return http.StatusAccepted, "concurrency_timeout"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, eventqueue.ErrFull):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, eventqueue.ErrClosed), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// fail writes err with its classified status. Unexpected errors are logged.
func fail(ctx context.Context, w http.ResponseWriter, l logger.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		l.Error(ctx, "request failed", logger.Error(err))
	}
	writeError(w, status, code, err)
}
