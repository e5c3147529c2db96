package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/services"
)

type Server struct {
	logger     *slog.Logger
	dispatcher *services.Dispatcher
	eventBus   *services.EventBus
	metrics    http.Handler
}

type ServerOption func(*Server)

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

func NewServer(logger *slog.Logger, dispatcher *services.Dispatcher, eventBus *services.EventBus, opts ...ServerOption) *Server {
	s := &Server{
		logger:     logger,
		dispatcher: dispatcher,
		eventBus:   eventBus,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the http.Handler for the server.
// Requests described by the OpenAPI document are validated before they reach a handler.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/workers", s.handleRegisterWorker)
	mux.HandleFunc("POST /v1/workers/unregister", s.handleUnregisterWorker)
	mux.HandleFunc("GET /v1/workers", s.handleListWorkers)
	mux.HandleFunc("POST /v1/jobs", s.handleSubmitJob)
	mux.HandleFunc("GET /v1/results", s.handleListResults)
	mux.HandleFunc("DELETE /v1/results", s.handleClearResults)
	mux.HandleFunc("GET /v1/results/stream", s.handleResultsSSE)
	mux.HandleFunc("GET /v1/backlog", s.handleBacklog)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	validator, err := newRequestValidator(s.logger)
	if err != nil {
		return nil, err
	}
	return validator.Wrap(mux), nil
}

// handleRegisterWorker adds a worker to the round-robin registry.
// POST /v1/workers
func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req WorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.NewError(domain.KindValidation, "register worker", "", err))
		return
	}

	status, err := s.dispatcher.RegisterWorker(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	code := http.StatusOK
	if status == domain.StatusRegistered {
		code = http.StatusCreated
	}
	writeJSON(w, code, RegistrationResponse{Status: status, Address: req.Address})
}

// handleUnregisterWorker removes a worker. Unknown addresses are not an error.
// POST /v1/workers/unregister
func (s *Server) handleUnregisterWorker(w http.ResponseWriter, r *http.Request) {
	var req WorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.NewError(domain.KindValidation, "unregister worker", "", err))
		return
	}

	status := s.dispatcher.UnregisterWorker(req.Address)
	writeJSON(w, http.StatusOK, RegistrationResponse{Status: status, Address: req.Address})
}

// GET /v1/workers
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := s.dispatcher.Workers()
	writeJSON(w, http.StatusOK, WorkersResponse{Workers: workers, Count: len(workers)})
}

// handleSubmitJob runs one job synchronously on the next worker.
// POST /v1/jobs
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.NewError(domain.KindValidation, "submit", "", err))
		return
	}

	result, err := s.dispatcher.Submit(r.Context(), req.Text)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			s.logger.Error("failed to submit job", "error", err)
		}
		writeError(w, code, err)
		return
	}

	writeJSON(w, http.StatusOK, SubmitResponse{
		Status:   StatusSuccess,
		JobID:    string(result.JobID),
		Seq:      result.Seq,
		Original: result.Original,
		Filtered: result.Filtered,
		Worker:   string(result.ProcessedBy),
	})
}

// GET /v1/results?limit=n
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, domain.NewError(domain.KindValidation, "list results", "", err))
		return
	}

	var results []domain.Result
	if limit != nil {
		results = s.dispatcher.ResultsTail(*limit)
	} else {
		results = s.dispatcher.Results()
	}
	writeJSON(w, http.StatusOK, ResultsResponse{Results: results, Count: len(results)})
}

// DELETE /v1/results
func (s *Server) handleClearResults(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.ClearResults(r.Context()); err != nil {
		s.logger.Error("failed to clear results", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/backlog
func (s *Server) handleBacklog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BacklogResponse{Pending: s.dispatcher.Backlog()})
}

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Workers: len(s.dispatcher.Workers())})
}

// statusFor maps a dispatcher error to its HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNoWorkers:
		return http.StatusServiceUnavailable
	case domain.KindWorkerUnreachable:
		return http.StatusBadGateway
	case domain.KindProcessing:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	kind := domain.KindOf(err)
	if kind == "" {
		kind = "internal"
	}
	writeJSON(w, code, ErrorResponse{
		Status:    StatusError,
		Kind:      string(kind),
		Message:   err.Error(),
		Retryable: kind.Retryable(),
	})
}
