package api

import (
	"context"
	"net/http"

	"github.com/okian/biprop/internal/domain/apportion"
	"github.com/okian/biprop/internal/domain/model"
)

// ComputeDependencies defines the synchronous engine operations.
type ComputeDependencies interface {
	Compute(ctx context.Context, election model.Election) (*apportion.Result, error)
	Upper(ctx context.Context, election model.Election) (apportion.UpperResult, error)
}

// ComputeHandler handles synchronous apportionment requests.
type ComputeHandler struct {
	deps ComputeDependencies
}

// NewComputeHandler creates a new compute handler.
func NewComputeHandler(deps ComputeDependencies) *ComputeHandler {
	return &ComputeHandler{deps: deps}
}

type apportionResponse struct {
	Seats      model.SeatMatrix       `json:"seats"`
	Divisors   model.DivisorState     `json:"divisors"`
	Targets    model.Targets          `json:"targets"`
	Iterations int                    `json:"iterations"`
	Stats      apportion.Stats        `json:"stats"`
	Upper      *apportion.UpperResult `json:"upper,omitempty"`
}

type upperResponse struct {
	apportion.UpperResult
	Balanced bool `json:"balanced"`
}

// HandleApportion handles POST /apportion.
func (h *ComputeHandler) HandleApportion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	election, err := decodeElection(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	res, err := h.deps.Compute(r.Context(), election)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apportionResponse{
		Seats:      res.Seats,
		Divisors:   res.State,
		Targets:    res.Targets,
		Iterations: res.Iterations,
		Stats:      res.Stats,
		Upper:      res.Upper,
	})
}

// HandleUpper handles POST /upper.
func (h *ComputeHandler) HandleUpper(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	election, err := decodeElection(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	up, err := h.deps.Upper(r.Context(), election)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, upperResponse{UpperResult: up, Balanced: up.Balanced()})
}
