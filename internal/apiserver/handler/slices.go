package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clustermeter/clustermeter/internal/store"
	"github.com/clustermeter/clustermeter/pkg/billing"
)

// SliceHandler serves persisted cluster state slices.
type SliceHandler struct {
	db *store.DB
}

func NewSliceHandler(db *store.DB) *SliceHandler {
	return &SliceHandler{db: db}
}

// sliceView is the JSON shape of a state slice. Nullable fields stay pointers
// so "no price match" and "no node count" serialize as null, not zero.
type sliceView struct {
	OrgID     string `json:"orgId"`
	ClusterID string `json:"clusterId"`
	StateType string `json:"stateType"`
	StartMs   int64  `json:"startMs"`
	EndMs     int64  `json:"endMs"`

	IsRunning          bool `json:"isRunning"`
	CloudBillable      bool `json:"cloudBillable"`
	DatabricksBillable bool `json:"databricksBillable"`
	Imputed            bool `json:"imputed"`

	CurrentNodes *int `json:"currentNodes"`
	TargetNodes  *int `json:"targetNodes"`

	ClusterName    string `json:"clusterName"`
	DriverNodeType string `json:"driverNodeType"`
	WorkerNodeType string `json:"workerNodeType"`
	IsAutomated    bool   `json:"isAutomated"`

	UptimeSeconds              float64 `json:"uptimeSeconds"`
	UptimeSinceResetSeconds    float64 `json:"uptimeSinceResetSeconds"`
	PotentialWorkerCoreSeconds float64 `json:"potentialWorkerCoreSeconds"`

	Cost *billing.CostBreakdown `json:"cost"`
}

func toSliceView(s *billing.StateSlice) sliceView {
	return sliceView{
		OrgID:     s.OrgID,
		ClusterID: s.ClusterID,
		StateType: string(s.Type),
		StartMs:   s.StartMs,
		EndMs:     s.EndMs,

		IsRunning:          s.IsRunning,
		CloudBillable:      s.CloudBillable,
		DatabricksBillable: s.DatabricksBillable,
		Imputed:            s.Imputed,

		CurrentNodes: s.CurrentNodes,
		TargetNodes:  s.TargetNodes,

		ClusterName:    s.ClusterName,
		DriverNodeType: s.DriverNodeType,
		WorkerNodeType: s.WorkerNodeType,
		IsAutomated:    s.IsAutomated,

		UptimeSeconds:              s.UptimeSeconds,
		UptimeSinceResetSeconds:    s.UptimeSinceResetSeconds,
		PotentialWorkerCoreSeconds: s.PotentialWorkerCoreSeconds,

		Cost: s.Cost,
	}
}

// List returns the slices of one window: GET /slices?from=&until=
func (h *SliceHandler) List(w http.ResponseWriter, r *http.Request) {
	from, until, ok := windowParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "from and until query params required, epoch ms, until > from")
		return
	}
	slcs, err := h.db.StateSlicesForWindow(r.Context(), billing.Window{From: from, Until: until})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]sliceView, 0, len(slcs))
	for _, s := range slcs {
		views = append(views, toSliceView(s))
	}
	writeJSON(w, http.StatusOK, views)
}

// ListForCluster returns one cluster's slices within a window:
// GET /slices/clusters/{cluster}?from=&until=
func (h *SliceHandler) ListForCluster(w http.ResponseWriter, r *http.Request) {
	from, until, ok := windowParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "from and until query params required, epoch ms, until > from")
		return
	}
	cluster := chi.URLParam(r, "cluster")
	slcs, err := h.db.StateSlicesForWindow(r.Context(), billing.Window{From: from, Until: until})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]sliceView, 0)
	for _, s := range slcs {
		if s.ClusterID == cluster {
			views = append(views, toSliceView(s))
		}
	}
	writeJSON(w, http.StatusOK, views)
}
