package allocate

import (
	"math"
	"testing"

	"github.com/clustermeter/clustermeter/pkg/billing"
)

func slice(cluster string, start, end int64, typ billing.EventType, total float64) billing.StateSlice {
	uptime := float64(end-start) / 1000.0
	return billing.StateSlice{
		OrgID:         "org1",
		ClusterID:     cluster,
		Type:          typ,
		StartMs:       start,
		EndMs:         end,
		IsRunning:     true,
		CloudBillable: true,
		UptimeSeconds: uptime,
		Cost: &billing.CostBreakdown{
			DriverCompute: total / 2,
			WorkerCompute: total / 2,
			TotalDriver:   total / 2,
			TotalWorker:   total / 2,
			Total:         total,
		},
		PotentialWorkerCoreSeconds: uptime * 8,
	}
}

func run(id int64, cluster string, ct billing.JobClusterType, start, end int64) billing.JobRun {
	return billing.JobRun{
		OrgID: "org1", RunID: id, JobID: id * 10, IDInJob: 1,
		ClusterID: cluster, ClusterType: ct,
		StartMs: start, EndMs: end,
		TerminalState: "SUCCESS", TriggerType: "CRON", TaskType: "NOTEBOOK",
	}
}

func TestAllocateEmptySlicesShortCircuits(t *testing.T) {
	runs := []billing.JobRun{run(1, "c1", billing.JobClusterNew, 0, 1000)}
	if facts := Allocate(nil, runs); facts != nil {
		t.Fatalf("expected nil facts for an empty slice table, got %d", len(facts))
	}
	slcs := []billing.StateSlice{slice("c1", 0, 9999, billing.EventRunning, 1.0)}
	if facts := Allocate(slcs, nil); facts != nil {
		t.Fatalf("expected nil facts for no runs, got %d", len(facts))
	}
}

func TestAllocateConservationForAutomatedRun(t *testing.T) {
	slcs := []billing.StateSlice{
		slice("c1", 0, 9999, billing.EventRunning, 3.0),
		slice("c1", 10000, 19999, billing.EventResizing, 6.0),
	}
	runs := []billing.JobRun{run(1, "c1", billing.JobClusterNew, 0, 19999)}

	facts := Allocate(slcs, runs)
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	f := facts[0]
	if f.StatesTouched != 2 {
		t.Errorf("states touched = %d, want 2", f.StatesTouched)
	}
	// A dedicated run occupying both slices fully gets exactly their cost.
	if math.Abs(f.TotalCost-9.0) > 1e-3 {
		t.Errorf("total cost = %v, want 9.0", f.TotalCost)
	}
	if f.MaxConcurrentRuns != 1 || f.AvgConcurrentRuns != 1 {
		t.Errorf("automated run concurrency = avg %v max %d, want 1/1", f.AvgConcurrentRuns, f.MaxConcurrentRuns)
	}
	if math.Abs(f.TotalCost-(f.TotalDriverCost+f.TotalWorkerCost)) > 1e-9 {
		t.Errorf("total %v != driver %v + worker %v", f.TotalCost, f.TotalDriverCost, f.TotalWorkerCost)
	}
}

func TestAllocateConcurrencyFairness(t *testing.T) {
	slcs := []billing.StateSlice{slice("c1", 0, 9999, billing.EventRunning, 10.0)}
	runs := []billing.JobRun{
		run(1, "c1", billing.JobClusterExisting, 0, 9999),
		run(2, "c1", billing.JobClusterExisting, 0, 9999),
	}

	facts := Allocate(slcs, runs)
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(facts))
	}
	var sum float64
	for _, f := range facts {
		// Equal full overlap: each run gets half the slice.
		if math.Abs(f.TotalCost-5.0) > 0.01 {
			t.Errorf("run %d cost = %v, want ~5.0", f.RunID, f.TotalCost)
		}
		if f.MaxConcurrentRuns != 2 {
			t.Errorf("run %d max concurrent = %d, want 2", f.RunID, f.MaxConcurrentRuns)
		}
		sum += f.TotalCost
	}
	if sum > 10.0+1e-9 {
		t.Errorf("allocated sum %v exceeds the slice cost", sum)
	}
}

func TestAllocateNonOverlappingSharedRuns(t *testing.T) {
	slcs := []billing.StateSlice{slice("c1", 0, 19999, billing.EventRunning, 10.0)}
	runs := []billing.JobRun{
		run(1, "c1", billing.JobClusterExisting, 0, 9999),
		run(2, "c1", billing.JobClusterExisting, 10000, 19999),
	}

	facts := Allocate(slcs, runs)
	for _, f := range facts {
		// No temporal overlap: each keeps its full share of its own half.
		if math.Abs(f.TotalCost-5.0) > 0.01 {
			t.Errorf("run %d cost = %v, want ~5.0", f.RunID, f.TotalCost)
		}
		if f.MaxConcurrentRuns != 1 {
			t.Errorf("run %d max concurrent = %d, want 1", f.RunID, f.MaxConcurrentRuns)
		}
	}
}

func TestAllocateScenarioScaling(t *testing.T) {
	// Cluster lifecycle: CREATING for a minute, RUNNING for the rest of the
	// hour. A dedicated run spans the first half of the RUNNING slice.
	creating := slice("c1", 0, 59999, billing.EventCreating, 0.1)
	running := slice("c1", 60000, 3599999, billing.EventRunning, 12.0)
	slcs := []billing.StateSlice{creating, running}
	runs := []billing.JobRun{run(1, "c1", billing.JobClusterNew, 60000, 1800000)}

	facts := Allocate(slcs, runs)
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	f := facts[0]
	if f.StatesTouched != 1 {
		t.Errorf("states touched = %d, want 1", f.StatesTouched)
	}
	wantShare := float64(1800000-60000) / float64(3600000-60000)
	if math.Abs(f.TotalCost-12.0*wantShare) > 0.01 {
		t.Errorf("total cost = %v, want ~%v", f.TotalCost, 12.0*wantShare)
	}
	wantCoreHours := running.PotentialWorkerCoreSeconds / 3600.0 * wantShare
	if math.Abs(f.PotentialCoreHours-wantCoreHours) > 0.01 {
		t.Errorf("potential core hours = %v, want ~%v", f.PotentialCoreHours, wantCoreHours)
	}
}

func TestAllocateInitFullClaimForProvisioningSlice(t *testing.T) {
	// The run starts halfway through a STARTING slice, but provisioning time
	// belongs to the run: the init piece claims the slice from its beginning.
	starting := slice("c1", 0, 99999, billing.EventStarting, 10.0)
	slcs := []billing.StateSlice{starting}
	runs := []billing.JobRun{run(1, "c1", billing.JobClusterExisting, 50000, 99999)}

	facts := Allocate(slcs, runs)
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	if math.Abs(facts[0].TotalCost-10.0) > 0.01 {
		t.Errorf("total cost = %v, want the full slice cost 10.0", facts[0].TotalCost)
	}
}

func TestAllocateRunOutsideSlicesGetsNoFact(t *testing.T) {
	slcs := []billing.StateSlice{slice("c1", 0, 9999, billing.EventRunning, 1.0)}
	runs := []billing.JobRun{run(1, "c2", billing.JobClusterNew, 0, 9999)}
	if facts := Allocate(slcs, runs); len(facts) != 0 {
		t.Fatalf("a run on an unknown cluster must produce no fact, got %d", len(facts))
	}
}

func TestEnrichWithoutTelemetry(t *testing.T) {
	facts := []billing.JobRunCostFact{{OrgID: "org1", RunID: 1, JobID: 10, IDInJob: 1, PotentialCoreHours: 8}}
	got := Enrich(facts, nil)
	f := got[0]
	if f.TaskRuntimeHours != nil || f.TaskCoreHours != nil || f.ClusterUtilization != nil {
		t.Error("absent telemetry must leave the utilization fields nil, not zero")
	}
}

func TestEnrichWithTelemetry(t *testing.T) {
	facts := []billing.JobRunCostFact{
		{OrgID: "org1", RunID: 1, JobID: 10, IDInJob: 1, PotentialCoreHours: 8},
		{OrgID: "org1", RunID: 2, JobID: 20, IDInJob: 1, PotentialCoreHours: 0},
	}
	tasks := []billing.TaskRuntime{
		{OrgID: "org1", JobID: 10, IDInJob: 1, StartedMs: 0, DurationMs: 3600000},
		{OrgID: "org1", JobID: 10, IDInJob: 1, StartedMs: 0, DurationMs: 3600000},
	}
	got := Enrich(facts, tasks)

	f := got[0]
	if f.TaskRuntimeHours == nil || math.Abs(*f.TaskRuntimeHours-2.0) > 1e-9 {
		t.Fatalf("task runtime hours = %v, want 2.0", f.TaskRuntimeHours)
	}
	if f.ClusterUtilization == nil || math.Abs(*f.ClusterUtilization-0.25) > 1e-9 {
		t.Fatalf("cluster utilization = %v, want 0.25", f.ClusterUtilization)
	}

	// Zero potential core hours: runtime is reported but the ratio stays nil.
	g := got[1]
	if g.TaskRuntimeHours == nil {
		t.Error("runtime hours should still be set from telemetry")
	}
	if g.ClusterUtilization != nil {
		t.Error("utilization ratio must stay nil when potential capacity is zero")
	}
}
