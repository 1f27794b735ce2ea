package handler

import (
	"net/http"
	"strconv"

	"github.com/clustermeter/clustermeter/internal/store"
)

// PipelineHandler serves the pipeline-run audit history.
type PipelineHandler struct {
	db *store.DB
}

func NewPipelineHandler(db *store.DB) *PipelineHandler {
	return &PipelineHandler{db: db}
}

// List returns recent pipeline runs, newest first: GET /pipeline-runs?limit=
func (h *PipelineHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := h.db.RecentPipelineRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []store.PipelineRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}
