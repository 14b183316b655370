package triageapi

import (
	"fmt"
	"net/http"

	"github.com/linnemanlabs/triagem/internal/casebase"
)

type entriesResponse struct {
	Origin  casebase.Origin  `json:"origin,omitempty"`
	Count   int              `json:"count"`
	Entries []casebase.Entry `json:"entries"`
}

func (a *API) handleCaseBaseStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.CaseBaseStats(r.Context())
	if err != nil {
		a.fail(w, r, err, "failed to read case base stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleCaseBaseEntries(w http.ResponseWriter, r *http.Request) {
	origin, err := parseOrigin(r.URL.Query().Get("origin"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := a.svc.CaseBaseEntries(r.Context(), origin)
	if err != nil {
		a.fail(w, r, err, "failed to list case base entries", "origin", origin)
		return
	}
	if entries == nil {
		entries = []casebase.Entry{}
	}
	writeJSON(w, http.StatusOK, entriesResponse{Origin: origin, Count: len(entries), Entries: entries})
}

func parseOrigin(s string) (casebase.Origin, error) {
	switch o := casebase.Origin(s); o {
	case "", casebase.OriginSeed, casebase.OriginValidated:
		return o, nil
	default:
		return "", fmt.Errorf("unknown origin %q (want seed or validated)", s)
	}
}
