package allocate

import "github.com/clustermeter/clustermeter/pkg/billing"

// Enrich joins task-level runtime telemetry onto the per-run facts to produce
// a cluster-utilization ratio. When no telemetry exists for the window the
// facts are returned untouched, utilization fields nil: absence of signal
// must not read as zero utilization.
func Enrich(facts []billing.JobRunCostFact, tasks []billing.TaskRuntime) []billing.JobRunCostFact {
	if len(tasks) == 0 {
		return facts
	}

	type runKey struct {
		org     string
		jobID   int64
		idInJob int64
	}
	hours := make(map[runKey]float64)
	for _, t := range tasks {
		k := runKey{t.OrgID, t.JobID, t.IDInJob}
		hours[k] += float64(t.DurationMs) / msPerHour
	}

	for i := range facts {
		f := &facts[i]
		h := round6(hours[runKey{f.OrgID, f.JobID, f.IDInJob}])
		f.TaskRuntimeHours = &h

		// A task holds one executor core for its duration, so summed task
		// runtime is already core time.
		ch := h
		f.TaskCoreHours = &ch

		if f.PotentialCoreHours > 0 {
			util := round4(ch / f.PotentialCoreHours)
			f.ClusterUtilization = &util
		}
	}
	return facts
}
