package slices

import (
	"math"
	"testing"

	"github.com/clustermeter/clustermeter/internal/pipeline/catalog"
	"github.com/clustermeter/clustermeter/internal/pipeline/reconstruct"
	"github.com/clustermeter/clustermeter/pkg/billing"
)

func intp(v int) *int { return &v }

func testIndex(asOf int64) *catalog.Index {
	return catalog.NewIndex([]billing.PriceCatalogEntry{
		{NodeTypeKey: "d1", ActiveFrom: -1000000, VCPUs: 8, HourlyComputeRate: 2.0, HourlyDBURate: 1.0},
		{NodeTypeKey: "w1", ActiveFrom: -1000000, VCPUs: 4, HourlyComputeRate: 1.0, HourlyDBURate: 0.5},
	}, asOf)
}

func testSpecs() []billing.ClusterSpec {
	return []billing.ClusterSpec{
		{OrgID: "org1", ClusterID: "c1", EffectiveMs: -1000000, ClusterName: "etl-cluster",
			DriverNodeType: "d1", WorkerNodeType: "w1", Source: billing.SpecSourceLive},
	}
}

func rev(ts int64, typ billing.EventType, running bool, nodes *int) reconstruct.Event {
	return reconstruct.Event{
		OrgID: "org1", ClusterID: "c1", Timestamp: ts, Type: typ,
		IsRunning: running, CurrentNodes: nodes, TargetNodes: nodes,
	}
}

func buildScenario(t *testing.T) []billing.StateSlice {
	t.Helper()
	window := billing.Window{From: 0, Until: 4000000}
	b := NewBuilder(testIndex(window.Until), testSpecs(), window)
	within := []reconstruct.Event{
		rev(0, billing.EventCreating, true, intp(2)),
		rev(60000, billing.EventRunning, true, intp(2)),
		rev(3600000, billing.EventTerminating, false, nil),
	}
	return b.Build(nil, within)
}

func TestBuildScenarioSlices(t *testing.T) {
	slcs := buildScenario(t)
	if len(slcs) != 3 {
		t.Fatalf("expected 3 slices, got %d", len(slcs))
	}

	creating := slcs[0]
	if creating.StartMs != 0 || creating.EndMs != 59999 {
		t.Errorf("creating slice range = [%d, %d], want [0, 59999]", creating.StartMs, creating.EndMs)
	}
	if !creating.CloudBillable || creating.DatabricksBillable {
		t.Errorf("CREATING slice must be cloud billable only, got cloud=%v dbx=%v",
			creating.CloudBillable, creating.DatabricksBillable)
	}

	running := slcs[1]
	if running.StartMs != 60000 || running.EndMs != 3599999 {
		t.Errorf("running slice range = [%d, %d], want [60000, 3599999]", running.StartMs, running.EndMs)
	}
	if !running.CloudBillable || !running.DatabricksBillable {
		t.Error("RUNNING slice must be billable on both meters")
	}
	if h := running.UptimeHours(); math.Abs(h-0.9833) > 0.001 {
		t.Errorf("running uptime hours = %v, want ~0.983", h)
	}

	term := slcs[2]
	if term.Type != billing.EventTerminating || term.StartMs != term.EndMs {
		t.Errorf("expected zero-length TERMINATING tail, got %+v", term)
	}
	if term.CloudBillable || term.DatabricksBillable {
		t.Error("TERMINATING tail must not be billable")
	}
}

func TestBuildPartitionInvariant(t *testing.T) {
	slcs := buildScenario(t)
	for i := 1; i < len(slcs); i++ {
		if slcs[i].StartMs != slcs[i-1].EndMs+1 {
			t.Errorf("slices %d and %d are not contiguous: end %d, next start %d",
				i-1, i, slcs[i-1].EndMs, slcs[i].StartMs)
		}
	}
}

func TestBuildCostAdditivity(t *testing.T) {
	slcs := buildScenario(t)
	for i, s := range slcs {
		c := s.Cost
		if c == nil {
			t.Fatalf("slice %d has no cost despite a full catalog", i)
		}
		if c.Total < 0 || c.TotalDriver < 0 || c.TotalWorker < 0 {
			t.Errorf("slice %d has negative cost: %+v", i, c)
		}
		if math.Abs(c.TotalDriver-(c.DriverCompute+c.DriverDBU)) > 1e-9 {
			t.Errorf("slice %d: driver total %v != %v + %v", i, c.TotalDriver, c.DriverCompute, c.DriverDBU)
		}
		if math.Abs(c.TotalWorker-(c.WorkerCompute+c.WorkerDBU)) > 1e-9 {
			t.Errorf("slice %d: worker total %v != %v + %v", i, c.TotalWorker, c.WorkerCompute, c.WorkerDBU)
		}
		if math.Abs(c.Total-(c.TotalDriver+c.TotalWorker)) > 1e-9 {
			t.Errorf("slice %d: total %v != %v + %v", i, c.Total, c.TotalDriver, c.TotalWorker)
		}
	}

	// The CREATING slice is cloud billable but not DBU billable.
	if slcs[0].Cost.DriverDBU != 0 || slcs[0].Cost.WorkerDBU != 0 {
		t.Error("CREATING slice must carry no DBU cost")
	}
	if slcs[0].Cost.DriverCompute == 0 {
		t.Error("CREATING slice must carry compute cost")
	}

	// Spot-check the running slice against the configured rates.
	running := slcs[1]
	hours := running.UptimeHours()
	wantWorkerCompute := 1.0 * 2 * hours
	if math.Abs(running.Cost.WorkerCompute-wantWorkerCompute) > 1e-9 {
		t.Errorf("worker compute = %v, want %v", running.Cost.WorkerCompute, wantWorkerCompute)
	}
	wantCoreSeconds := 4.0 * 2 * running.UptimeSeconds
	if math.Abs(running.PotentialWorkerCoreSeconds-wantCoreSeconds) > 1e-9 {
		t.Errorf("potential core seconds = %v, want %v", running.PotentialWorkerCoreSeconds, wantCoreSeconds)
	}
}

func TestBuildDropsOpenEndedFinalSlice(t *testing.T) {
	window := billing.Window{From: 0, Until: 100000}
	b := NewBuilder(testIndex(window.Until), testSpecs(), window)
	within := []reconstruct.Event{
		rev(1000, billing.EventStarting, true, intp(1)),
		rev(50000, billing.EventRunning, true, intp(1)),
	}
	slcs := b.Build(nil, within)
	if len(slcs) != 1 {
		t.Fatalf("expected the open-ended final slice to be dropped, got %d slices", len(slcs))
	}
	if slcs[0].Type != billing.EventStarting {
		t.Errorf("surviving slice type = %v, want STARTING", slcs[0].Type)
	}
}

func TestBuildSeedCarryForward(t *testing.T) {
	window := billing.Window{From: 100000, Until: 200000}
	b := NewBuilder(testIndex(window.Until), testSpecs(), window)

	before := []reconstruct.Event{rev(50000, billing.EventRunning, true, intp(3))}
	within := []reconstruct.Event{rev(150000, billing.EventTerminating, false, nil)}

	slcs := b.Build(before, within)
	if len(slcs) != 2 {
		t.Fatalf("expected seed slice plus terminating tail, got %d slices", len(slcs))
	}
	if slcs[0].StartMs != window.From {
		t.Errorf("seed slice must be clamped to the window start, got %d", slcs[0].StartMs)
	}
	if slcs[0].Type != billing.EventRunning || !slcs[0].IsRunning {
		t.Errorf("seed must carry the prior running state, got %+v", slcs[0])
	}
}

func TestBuildTerminatedSeedIsDiscarded(t *testing.T) {
	window := billing.Window{From: 100000, Until: 200000}
	b := NewBuilder(testIndex(window.Until), testSpecs(), window)

	before := []reconstruct.Event{rev(50000, billing.EventTerminating, false, nil)}
	within := []reconstruct.Event{
		rev(150000, billing.EventStarting, true, intp(1)),
		rev(180000, billing.EventTerminating, false, nil),
	}
	slcs := b.Build(before, within)
	if len(slcs) != 2 {
		t.Fatalf("a terminated cluster must not be carried into the window, got %d slices", len(slcs))
	}
	if slcs[0].StartMs != 150000 {
		t.Errorf("first slice start = %d, want 150000", slcs[0].StartMs)
	}
}

func TestBuildUptimeSinceReset(t *testing.T) {
	window := billing.Window{From: 0, Until: 10000000}
	b := NewBuilder(testIndex(window.Until), testSpecs(), window)
	within := []reconstruct.Event{
		rev(0, billing.EventStarting, true, intp(1)),
		rev(100000, billing.EventRunning, true, intp(1)),
		rev(200000, billing.EventRestarting, true, intp(1)),
		rev(300000, billing.EventRunning, true, intp(1)),
		rev(400000, billing.EventTerminating, false, nil),
	}
	slcs := b.Build(nil, within)
	if len(slcs) != 5 {
		t.Fatalf("expected 5 slices, got %d", len(slcs))
	}

	// STARTING and RUNNING accumulate; the RESTARTING transition resets the
	// accumulator for the slice that follows it.
	if slcs[1].UptimeSinceResetSeconds <= slcs[0].UptimeSinceResetSeconds {
		t.Error("RUNNING slice must accumulate on top of the STARTING slice")
	}
	if slcs[3].UptimeSinceResetSeconds >= slcs[2].UptimeSinceResetSeconds+slcs[1].UptimeSinceResetSeconds {
		t.Error("the slice after RESTARTING must restart the accumulator")
	}
	if slcs[3].UptimeSinceResetSeconds != slcs[3].UptimeSeconds {
		t.Errorf("post-reset accumulator = %v, want its own uptime %v",
			slcs[3].UptimeSinceResetSeconds, slcs[3].UptimeSeconds)
	}
}

func TestBuildAutomatedClusterDetection(t *testing.T) {
	window := billing.Window{From: 0, Until: 1000000}
	specs := []billing.ClusterSpec{
		{OrgID: "org1", ClusterID: "c1", EffectiveMs: 0, ClusterName: "job-8112-run-211",
			DriverNodeType: "d1", WorkerNodeType: "w1", Source: billing.SpecSourceSnapshot},
	}
	b := NewBuilder(testIndex(window.Until), specs, window)
	within := []reconstruct.Event{
		rev(1000, billing.EventRunning, true, intp(1)),
		rev(500000, billing.EventTerminating, false, nil),
	}
	slcs := b.Build(nil, within)
	if len(slcs) == 0 || !slcs[0].IsAutomated {
		t.Error("job-prefixed cluster name must mark the slice as automated")
	}
}

func TestBuildMissingCatalogDegradesSlice(t *testing.T) {
	window := billing.Window{From: 0, Until: 1000000}
	specs := []billing.ClusterSpec{
		{OrgID: "org1", ClusterID: "c1", EffectiveMs: 0, ClusterName: "adhoc",
			DriverNodeType: "unknown-type", WorkerNodeType: "w1", Source: billing.SpecSourceLive},
	}
	b := NewBuilder(testIndex(window.Until), specs, window)
	within := []reconstruct.Event{
		rev(1000, billing.EventRunning, true, intp(1)),
		rev(500000, billing.EventTerminating, false, nil),
	}
	slcs := b.Build(nil, within)
	if len(slcs) != 2 {
		t.Fatalf("a missing price must not drop the slice, got %d slices", len(slcs))
	}
	if slcs[0].Cost != nil {
		t.Error("slice with an unpriced driver type must carry a nil cost breakdown")
	}
	if slcs[0].PotentialWorkerCoreSeconds == 0 {
		t.Error("worker capacity is still computable when only the driver price is missing")
	}
}
