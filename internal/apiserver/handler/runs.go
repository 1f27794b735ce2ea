package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clustermeter/clustermeter/internal/store"
	"github.com/clustermeter/clustermeter/pkg/billing"
)

// RunCostHandler serves the per-job-run cost facts.
type RunCostHandler struct {
	db *store.DB
}

func NewRunCostHandler(db *store.DB) *RunCostHandler {
	return &RunCostHandler{db: db}
}

type runCostView struct {
	OrgID         string `json:"orgId"`
	RunID         int64  `json:"runId"`
	JobID         int64  `json:"jobId"`
	IDInJob       int64  `json:"idInJob"`
	ClusterID     string `json:"clusterId"`
	ClusterType   string `json:"clusterType"`
	TerminalState string `json:"terminalState"`
	TriggerType   string `json:"triggerType"`
	TaskType      string `json:"taskType"`
	StartMs       int64  `json:"startMs"`
	EndMs         int64  `json:"endMs"`

	RunningDays       int     `json:"runningDays"`
	StatesTouched     int     `json:"statesTouched"`
	AvgConcurrentRuns float64 `json:"avgConcurrentRuns"`
	MaxConcurrentRuns int     `json:"maxConcurrentRuns"`

	PotentialCoreHours float64 `json:"potentialCoreHours"`

	DriverComputeCost float64 `json:"driverComputeCost"`
	DriverDBUCost     float64 `json:"driverDbuCost"`
	WorkerComputeCost float64 `json:"workerComputeCost"`
	WorkerDBUCost     float64 `json:"workerDbuCost"`
	TotalDriverCost   float64 `json:"totalDriverCost"`
	TotalWorkerCost   float64 `json:"totalWorkerCost"`
	TotalCost         float64 `json:"totalCost"`

	TaskRuntimeHours   *float64 `json:"taskRuntimeHours"`
	TaskCoreHours      *float64 `json:"taskCoreHours"`
	ClusterUtilization *float64 `json:"clusterUtilization"`
}

func toRunCostView(f *billing.JobRunCostFact) runCostView {
	return runCostView{
		OrgID:         f.OrgID,
		RunID:         f.RunID,
		JobID:         f.JobID,
		IDInJob:       f.IDInJob,
		ClusterID:     f.ClusterID,
		ClusterType:   string(f.ClusterType),
		TerminalState: f.TerminalState,
		TriggerType:   f.TriggerType,
		TaskType:      f.TaskType,
		StartMs:       f.StartMs,
		EndMs:         f.EndMs,

		RunningDays:       f.RunningDays,
		StatesTouched:     f.StatesTouched,
		AvgConcurrentRuns: f.AvgConcurrentRuns,
		MaxConcurrentRuns: f.MaxConcurrentRuns,

		PotentialCoreHours: f.PotentialCoreHours,

		DriverComputeCost: f.DriverComputeCost,
		DriverDBUCost:     f.DriverDBUCost,
		WorkerComputeCost: f.WorkerComputeCost,
		WorkerDBUCost:     f.WorkerDBUCost,
		TotalDriverCost:   f.TotalDriverCost,
		TotalWorkerCost:   f.TotalWorkerCost,
		TotalCost:         f.TotalCost,

		TaskRuntimeHours:   f.TaskRuntimeHours,
		TaskCoreHours:      f.TaskCoreHours,
		ClusterUtilization: f.ClusterUtilization,
	}
}

// List returns the cost facts of one window: GET /runs?from=&until=
func (h *RunCostHandler) List(w http.ResponseWriter, r *http.Request) {
	from, until, ok := windowParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "from and until query params required, epoch ms, until > from")
		return
	}
	facts, err := h.db.JobRunFactsForWindow(r.Context(), billing.Window{From: from, Until: until})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]runCostView, 0, len(facts))
	for _, f := range facts {
		views = append(views, toRunCostView(f))
	}
	writeJSON(w, http.StatusOK, views)
}

// Get returns one run's fact within a window: GET /runs/{runID}?from=&until=
func (h *RunCostHandler) Get(w http.ResponseWriter, r *http.Request) {
	from, until, ok := windowParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "from and until query params required, epoch ms, until > from")
		return
	}
	runID, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "runID must be an integer")
		return
	}
	facts, err := h.db.JobRunFactsForWindow(r.Context(), billing.Window{From: from, Until: until})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, f := range facts {
		if f.RunID == runID {
			writeJSON(w, http.StatusOK, toRunCostView(f))
			return
		}
	}
	writeError(w, http.StatusNotFound, "run not found in window")
}
