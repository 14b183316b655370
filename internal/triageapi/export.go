package triageapi

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/linnemanlabs/triagem/internal/triage"
)

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := triage.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// buffered so a failure mid-export still yields a clean error response
	var buf bytes.Buffer
	n, err := a.svc.ExportCSV(r.Context(), &buf, filter)
	if err != nil {
		a.fail(w, r, err, "failed to export triages", "status", filter)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+triage.ExportFilename(filter, time.Now())+`"`)
	w.Header().Set("X-Record-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
