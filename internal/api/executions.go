package api

import (
	"net/http"
	"time"

	"github.com/djlord-it/pushcron/internal/domain"
)

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pagination: "+err.Error())
		return
	}
	status := domain.ExecutionStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status: "+string(status))
		return
	}
	execs, err := h.executions.FindAll(r.Context(), status, limit, offset)
	if err != nil {
		h.fail(w, r, "list executions", err)
		return
	}
	writeExecutions(w, execs)
}

func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	exec, err := h.executions.FindByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get execution", err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// executionStats counts executions created at or after ?since (RFC 3339).
// Without since it covers the whole log.
func (h *Handler) executionStats(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: expected RFC 3339 timestamp")
			return
		}
		since = t
	}
	stats, err := h.executions.Stats(r.Context(), since)
	if err != nil {
		h.fail(w, r, "compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeExecutions(w http.ResponseWriter, execs []domain.Execution) {
	if execs == nil {
		execs = []domain.Execution{}
	}
	writeJSON(w, http.StatusOK, ListExecutionsResponse{Executions: execs})
}
