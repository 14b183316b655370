package triageapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/triagem/internal/authmw"
	"github.com/linnemanlabs/triagem/internal/triage"
)

type diagnoseRequest struct {
	Symptoms string `json:"symptoms"`
}

type submitRequest struct {
	Symptoms string `json:"symptoms"`
	Response string `json:"response"`
}

type validateRequest struct {
	Reviewer string `json:"reviewer"`
	Feedback string `json:"feedback"`
}

type listResponse struct {
	Status  triage.StatusFilter `json:"status"`
	Count   int                 `json:"count"`
	Records []*triage.Record    `json:"records"`
}

func (a *API) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	var req diagnoseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	d, err := a.diagnoser.Diagnose(r.Context(), req.Symptoms)
	if err != nil {
		a.fail(w, r, err, "diagnosis failed")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("triagem.diagnosis.id", d.ID),
		attribute.String("triagem.risk.color", string(d.Color)),
	)
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	rec, err := a.svc.Submit(r.Context(), req.Symptoms, req.Response)
	if err != nil {
		a.fail(w, r, err, "failed to submit triage")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("triagem.triage.id", rec.ID))
	w.Header().Set("Location", "/api/v1/triages/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := triage.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := a.svc.List(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err, "failed to list triages", "status", filter)
		return
	}
	if records == nil {
		records = []*triage.Record{}
	}
	writeJSON(w, http.StatusOK, listResponse{Status: filter, Count: len(records), Records: records})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("triagem.triage.id", id))

	rec, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "failed to get triage", "id", id)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("triagem.triage.id", id))

	if err := a.svc.Delete(r.Context(), id); err != nil {
		a.fail(w, r, err, "failed to delete triage", "id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidate takes the reviewer from the authenticated identity when
// there is one; the body field is only used behind the static token.
func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("triagem.triage.id", id))

	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	reviewer := req.Reviewer
	if who, ok := authmw.ReviewerFromContext(r.Context()); ok {
		reviewer = who
	}

	res, err := a.svc.Validate(r.Context(), id, reviewer, req.Feedback)
	if err != nil {
		a.fail(w, r, err, "failed to validate triage", "id", id)
		return
	}

	span.SetAttributes(
		attribute.Bool("triagem.casebase.linked", res.Linked),
		attribute.String("triagem.risk.color", string(res.Color)),
	)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Stats(r.Context())
	if err != nil {
		a.fail(w, r, err, "failed to read stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
