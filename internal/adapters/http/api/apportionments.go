package api

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/okian/biprop/internal/adapters/repository"
	"github.com/okian/biprop/internal/domain/model"
)

// ApportionmentDependencies defines the asynchronous job operations.
type ApportionmentDependencies interface {
	Submit(ctx context.Context, election model.Election) (model.Submission, error)
	Job(ctx context.Context, id string) (repository.Record, error)
	ExportBAZI(ctx context.Context, id string) ([]byte, error)
	DecodeBAZI(r io.Reader) (model.Election, error)
	Charset() string
}

// ApportionmentHandler handles job requests.
type ApportionmentHandler struct {
	deps ApportionmentDependencies
}

// NewApportionmentHandler creates a new apportionment handler.
func NewApportionmentHandler(deps ApportionmentDependencies) *ApportionmentHandler {
	return &ApportionmentHandler{deps: deps}
}

// HandleSubmit handles POST /apportionments. The body is a JSON election, or a
// BAZI block when sent as text/plain.
func (h *ApportionmentHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var (
		election model.Election
		err      error
	)
	if isPlainText(r.Header.Get("Content-Type")) {
		election, err = h.deps.DecodeBAZI(r.Body)
	} else {
		election, err = decodeElection(r)
	}
	if err != nil {
		writeFailure(w, err)
		return
	}

	sub, err := h.deps.Submit(r.Context(), election)
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Location", "/apportionments/"+sub.ID)
	if sub.Duplicate {
		writeJSON(w, http.StatusOK, sub)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

// HandleGet handles GET /apportionments/{id}.
func (h *ApportionmentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleBAZI handles GET /apportionments/{id}/bazi.
func (h *ApportionmentHandler) HandleBAZI(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	raw, err := h.deps.ExportBAZI(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset="+h.deps.Charset())
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.bazi"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func isPlainText(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mt, "text/plain")
}
