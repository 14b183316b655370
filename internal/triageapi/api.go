// Package triageapi exposes the triage pipeline and the review workflow over
// HTTP.
package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/triagem/internal/casebase"
	"github.com/linnemanlabs/triagem/internal/triage"
)

// Diagnoser runs the retrieval-augmented triage for a symptom description.
type Diagnoser interface {
	Diagnose(ctx context.Context, symptoms string) (*triage.Diagnosis, error)
}

// TriageService defines the review-workflow operations triageapi needs.
type TriageService interface {
	Submit(ctx context.Context, symptoms, response string) (*triage.Record, error)
	Get(ctx context.Context, id string) (*triage.Record, error)
	List(ctx context.Context, filter triage.StatusFilter) ([]*triage.Record, error)
	Validate(ctx context.Context, id, reviewer, feedback string) (*triage.ValidationResult, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (triage.Stats, error)
	CaseBaseStats(ctx context.Context) (casebase.Stats, error)
	CaseBaseEntries(ctx context.Context, origin casebase.Origin) ([]casebase.Entry, error)
	ExportCSV(ctx context.Context, w io.Writer, filter triage.StatusFilter) (int, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	svc       TriageService
	diagnoser Diagnoser
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService, diagnoser Diagnoser) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	if diagnoser == nil {
		panic(xerrors.New("diagnoser is required"))
	}
	return &API{
		logger:    logger,
		svc:       svc,
		diagnoser: diagnoser,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/diagnose", a.handleDiagnose)

		r.Route("/triages", func(r chi.Router) {
			r.Post("/", a.handleSubmit)
			r.Get("/", a.handleList)
			r.Get("/{id}", a.handleGet)
			r.Delete("/{id}", a.handleDelete)
			r.Post("/{id}/validate", a.handleValidate)
		})

		r.Get("/stats", a.handleStats)
		r.Get("/casebase/stats", a.handleCaseBaseStats)
		r.Get("/casebase/entries", a.handleCaseBaseEntries)
		r.Get("/export.csv", a.handleExport)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, triage.ErrEmptySymptoms),
		errors.Is(err, triage.ErrEmptyResponse),
		errors.Is(err, triage.ErrEmptyReviewer):
		return http.StatusBadRequest
	case errors.Is(err, triage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, triage.ErrAlreadyValidated):
		return http.StatusConflict
	case errors.Is(err, triage.ErrEmbedding),
		errors.Is(err, triage.ErrRetrieval),
		errors.Is(err, triage.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the mapped error. Server-side failures are logged and their
// details withheld from the client.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, msg, kv...)
	}
	switch status {
	case http.StatusInternalServerError:
		writeError(w, status, "internal error")
	case http.StatusBadGateway:
		writeError(w, status, upstreamMessage(err))
	default:
		writeError(w, status, err.Error())
	}
}

func upstreamMessage(err error) string {
	switch {
	case errors.Is(err, triage.ErrEmbedding):
		return triage.ErrEmbedding.Error()
	case errors.Is(err, triage.ErrRetrieval):
		return triage.ErrRetrieval.Error()
	default:
		return triage.ErrGeneration.Error()
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
