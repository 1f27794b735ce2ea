// Package billing holds the shared value types of the cluster metering
// pipeline: lifecycle events, state slices, the effective-dated price catalog
// and the per-job-run cost facts.
package billing

import "time"

// EventType is a cluster lifecycle event type as reported by the event stream.
type EventType string

const (
	EventCreating           EventType = "CREATING"
	EventStarting           EventType = "STARTING"
	EventInitScriptsStarted EventType = "INIT_SCRIPTS_STARTED"
	EventRunning            EventType = "RUNNING"
	EventResizing           EventType = "RESIZING"
	EventUpsizeCompleted    EventType = "UPSIZE_COMPLETED"
	EventDriverHealthy      EventType = "DRIVER_HEALTHY"
	EventTerminating        EventType = "TERMINATING"
	EventRestarting         EventType = "RESTARTING"
	EventEdited             EventType = "EDITED"
	EventExpandedDisk       EventType = "EXPANDED_DISK"
	EventNodesLost          EventType = "NODES_LOST"
)

// AnchorRunning reports whether the event type is trusted as unambiguous
// evidence of a running cluster. Soft types like EXPANDED_DISK and NODES_LOST
// are excluded: they can arrive after termination.
func (t EventType) AnchorRunning() bool {
	switch t {
	case EventStarting, EventInitScriptsStarted, EventRunning,
		EventCreating, EventResizing, EventUpsizeCompleted, EventDriverHealthy:
		return true
	}
	return false
}

// ResetsUptime reports whether the event type restarts the
// uptime-since-last-reset accumulator.
func (t EventType) ResetsUptime() bool {
	switch t {
	case EventTerminating, EventRestarting, EventEdited:
		return true
	}
	return false
}

// Window is a half-open [From, Until) time range in epoch milliseconds.
type Window struct {
	From  int64
	Until int64
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts int64) bool {
	return ts >= w.From && ts < w.Until
}

// LifecycleEvent is one raw state-change notification for a cluster.
// Optional node-count fields are nil when the source did not report them.
type LifecycleEvent struct {
	OrgID        string
	ClusterID    string
	Timestamp    int64
	Type         EventType
	CurrentNodes *int
	TargetNodes  *int
	SizeHint     *int
	AutoscaleMin *int
}

// SpecSource distinguishes the live cluster-spec table from the point-in-time
// snapshot table.
type SpecSource string

const (
	SpecSourceLive     SpecSource = "live"
	SpecSourceSnapshot SpecSource = "snapshot"
)

// ClusterSpec is one effective-dated metadata record for a cluster: node
// types and name as of EffectiveMs.
type ClusterSpec struct {
	OrgID          string
	ClusterID      string
	EffectiveMs    int64
	ClusterName    string
	DriverNodeType string
	WorkerNodeType string
	Source         SpecSource
}

// PriceCatalogEntry is one version of a type-2 pricing dimension record.
// ActiveUntil is nil for the current record.
type PriceCatalogEntry struct {
	NodeTypeKey       string
	ActiveFrom        int64
	ActiveUntil       *int64
	VCPUs             int
	HourlyComputeRate float64
	HourlyDBURate     float64
}

// CostBreakdown splits a slice's cost into driver/worker and compute/DBU
// components. Totals are kept explicit so the additivity invariant is
// checkable row by row.
type CostBreakdown struct {
	DriverCompute float64
	DriverDBU     float64
	WorkerCompute float64
	WorkerDBU     float64
	TotalDriver   float64
	TotalWorker   float64
	Total         float64
}

// StateSlice is a maximal interval during which a cluster's billing-relevant
// attributes are constant. EndMs is the next slice's start minus 1ms; slices
// of one cluster are contiguous and non-overlapping. Cost is nil when no
// price catalog match existed for the slice.
type StateSlice struct {
	OrgID     string
	ClusterID string
	Type      EventType
	StartMs   int64
	EndMs     int64

	IsRunning          bool
	CloudBillable      bool
	DatabricksBillable bool
	Imputed            bool

	CurrentNodes *int
	TargetNodes  *int

	ClusterName    string
	DriverNodeType string
	WorkerNodeType string
	IsAutomated    bool

	UptimeSeconds           float64
	UptimeSinceResetSeconds float64

	PotentialWorkerCoreSeconds float64
	Cost                       *CostBreakdown
}

// UptimeHours returns the slice duration in hours.
func (s *StateSlice) UptimeHours() float64 {
	return s.UptimeSeconds / 3600.0
}

// JobClusterType says whether a run brought up its own cluster or attached to
// a shared interactive one.
type JobClusterType string

const (
	JobClusterNew      JobClusterType = "new"
	JobClusterExisting JobClusterType = "existing"
)

// JobRun is one terminal job run with resolved start/end timestamps.
type JobRun struct {
	OrgID         string
	RunID         int64
	JobID         int64
	IDInJob       int64
	ClusterID     string
	ClusterType   JobClusterType
	StartMs       int64
	EndMs         int64
	TerminalState string
	TriggerType   string
	TaskType      string
}

// TaskRuntime is one task-level telemetry record attributed to a run within
// its job.
type TaskRuntime struct {
	OrgID      string
	JobID      int64
	IDInJob    int64
	StartedMs  int64
	DurationMs int64
}

// JobRunCostFact is the aggregated fact row: one per job run. The three task
// utilization fields are nil when no telemetry was available for the window —
// absence of signal is not zero utilization.
type JobRunCostFact struct {
	OrgID         string
	RunID         int64
	JobID         int64
	IDInJob       int64
	ClusterID     string
	ClusterType   JobClusterType
	TerminalState string
	TriggerType   string
	TaskType      string
	StartMs       int64
	EndMs         int64

	RunningDays       int
	StatesTouched     int
	AvgConcurrentRuns float64
	MaxConcurrentRuns int

	PotentialCoreHours float64

	DriverComputeCost float64
	DriverDBUCost     float64
	WorkerComputeCost float64
	WorkerDBUCost     float64
	TotalDriverCost   float64
	TotalWorkerCost   float64
	TotalCost         float64

	TaskRuntimeHours   *float64
	TaskCoreHours      *float64
	ClusterUtilization *float64
}

// MsToTime converts an epoch-millisecond timestamp to UTC time.
func MsToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
