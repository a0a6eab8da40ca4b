// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/biprop/internal/adapters/repository"
	service "github.com/okian/biprop/internal/app"
	"github.com/okian/biprop/internal/domain/apportion"
	"github.com/okian/biprop/internal/domain/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Submit queues an election for asynchronous apportionment.
	Submit(ctx context.Context, election model.Election) (model.Submission, error)

	// Job returns the stored state of a job.
	Job(ctx context.Context, id string) (repository.Record, error)

	// Compute and Upper run the engine synchronously.
	Compute(ctx context.Context, election model.Election) (*apportion.Result, error)
	Upper(ctx context.Context, election model.Election) (apportion.UpperResult, error)

	// ExportBAZI and DecodeBAZI translate to and from BAZI blocks.
	ExportBAZI(ctx context.Context, id string) ([]byte, error)
	DecodeBAZI(r io.Reader) (model.Election, error)
	Charset() string
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler        *HealthHandler
	statsHandler         *StatsHandler
	apportionmentHandler *ApportionmentHandler
	computeHandler       *ComputeHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:        NewHealthHandler(),
		statsHandler:         NewStatsHandler(statsProvider),
		apportionmentHandler: NewApportionmentHandler(deps),
		computeHandler:       NewComputeHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /apportionments", MetricsMiddleware(s.apportionmentHandler.HandleSubmit, "apportionments"))
	mux.HandleFunc("GET /apportionments/{id}", MetricsMiddleware(s.apportionmentHandler.HandleGet, "apportionment"))
	mux.HandleFunc("GET /apportionments/{id}/bazi", MetricsMiddleware(s.apportionmentHandler.HandleBAZI, "apportionment_bazi"))
	mux.HandleFunc("POST /apportion", MetricsMiddleware(s.computeHandler.HandleApportion, "apportion"))
	mux.HandleFunc("POST /upper", MetricsMiddleware(s.computeHandler.HandleUpper, "upper"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
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
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps service and engine errors to a status and error code.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrInvalidElection):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrBusy):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, apportion.ErrConfiguration),
		errors.Is(err, apportion.ErrSearchExhausted),
		errors.Is(err, apportion.ErrNonConvergence):
		writeError(w, http.StatusUnprocessableEntity, apportion.KindOf(err), err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// decodeElection reads a JSON election from the request body.
func decodeElection(r *http.Request) (model.Election, error) {
	var e model.Election
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return model.Election{}, errors.Join(ErrBadRequest, err)
	}
	return e, nil
}
