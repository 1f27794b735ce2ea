// Package allocate intersects job-run time ranges with cluster state slices,
// splits slices at run boundaries, shares slice cost fairly across concurrent
// runs, and aggregates one cost fact per job run.
package allocate

import (
	"math"
	"sort"

	"github.com/clustermeter/clustermeter/pkg/billing"
)

const msPerHour = 3600 * 1000.0

type pieceKind int

const (
	pieceInit pieceKind = iota
	pieceIntermediate
	pieceTerminal
)

// piece is one state slice clipped to a job run's boundary. A run has at most
// one init and one terminal piece per cluster; the three kinds partition the
// run's cluster time with no double counting.
type piece struct {
	run   *billing.JobRun
	slice *billing.StateSlice
	kind  pieceKind

	startMs int64
	endMs   int64

	runtimeHours   float64
	stateUtilPct   float64
	runStateUtil   float64
	concurrentRuns int
}

// Allocate computes one JobRunCostFact per job run from the window's state
// slices. An empty slice table short-circuits to an empty result: there is
// nothing to join against.
func Allocate(slcs []billing.StateSlice, runs []billing.JobRun) []billing.JobRunCostFact {
	if len(slcs) == 0 || len(runs) == 0 {
		return nil
	}

	byCluster := make(map[string][]*billing.StateSlice)
	for i := range slcs {
		s := &slcs[i]
		k := s.OrgID + "|" + s.ClusterID
		byCluster[k] = append(byCluster[k], s)
	}
	for k := range byCluster {
		ss := byCluster[k]
		sort.Slice(ss, func(i, j int) bool { return ss[i].StartMs < ss[j].StartMs })
		byCluster[k] = ss
	}

	var pieces []*piece
	for i := range runs {
		run := &runs[i]
		pieces = append(pieces, splitRun(run, byCluster[run.OrgID+"|"+run.ClusterID])...)
	}

	applyConcurrency(pieces)

	return aggregate(runs, pieces)
}

// splitRun clips the run against its cluster's slices into init, intermediate
// and terminal pieces. The init piece claims the slice from its beginning
// when the slice is a guaranteed-initializing state or the run brought up its
// own cluster: provisioning time before the run officially started belongs to
// the run. Intermediate pieces explicitly exclude anything already claimed.
func splitRun(run *billing.JobRun, slcs []*billing.StateSlice) []*piece {
	var out []*piece
	var initSlice, termSlice *billing.StateSlice

	for _, s := range slcs {
		if s.StartMs <= run.StartMs && run.StartMs <= s.EndMs {
			initSlice = s
		}
		if s.StartMs <= run.EndMs && run.EndMs <= s.EndMs {
			termSlice = s
		}
	}

	if initSlice != nil {
		start := run.StartMs
		if initSlice.Type == billing.EventCreating || initSlice.Type == billing.EventStarting ||
			run.ClusterType == billing.JobClusterNew {
			start = initSlice.StartMs
		}
		out = append(out, newPiece(run, initSlice, pieceInit, start, minMs(initSlice.EndMs, run.EndMs)))
	}

	if termSlice != nil && termSlice != initSlice {
		out = append(out, newPiece(run, termSlice, pieceTerminal, maxMs(termSlice.StartMs, run.StartMs), run.EndMs))
	}

	for _, s := range slcs {
		if s == initSlice || s == termSlice {
			continue
		}
		if s.StartMs > run.StartMs && s.EndMs < run.EndMs {
			out = append(out, newPiece(run, s, pieceIntermediate, s.StartMs, s.EndMs))
		}
	}
	return out
}

func newPiece(run *billing.JobRun, s *billing.StateSlice, kind pieceKind, start, end int64) *piece {
	if end < start {
		end = start
	}
	p := &piece{
		run:            run,
		slice:          s,
		kind:           kind,
		startMs:        start,
		endMs:          end,
		runtimeHours:   float64(end-start) / msPerHour,
		runStateUtil:   1.0,
		concurrentRuns: 1,
	}
	if s.UptimeSeconds > 0 {
		p.stateUtilPct = p.runtimeHours / s.UptimeHours()
		if p.stateUtilPct > 1 {
			p.stateUtilPct = 1
		}
	}
	return p
}

// applyConcurrency computes fair-share utilization for interactive runs that
// share a cluster-state slice. For each pair sharing a slice, the overlap of
// their clipped windows accumulates into a cumulative overlapping runtime;
// the run's share is its own runtime over that total, capped at 1. Automated
// runs own their cluster fully and keep a share of 1.
func applyConcurrency(pieces []*piece) {
	bySlice := make(map[*billing.StateSlice][]*piece)
	for _, p := range pieces {
		if p.run.ClusterType != billing.JobClusterExisting {
			continue
		}
		bySlice[p.slice] = append(bySlice[p.slice], p)
	}

	for _, group := range bySlice {
		for _, p := range group {
			cumulative := p.runtimeHours
			for _, q := range group {
				if q.run == p.run {
					continue
				}
				ov := overlapMs(p.startMs, p.endMs, q.startMs, q.endMs)
				if ov > 0 {
					cumulative += float64(ov) / msPerHour
					p.concurrentRuns++
				}
			}
			if cumulative > 0 {
				p.runStateUtil = math.Min(p.runtimeHours/cumulative, 1.0)
			}
		}
	}
}

// overlapMs returns the overlapping duration of [aS, aE] and [bS, bE]. Every
// interval relation (partial overlap on either side, full containment)
// reduces to the same min/max.
func overlapMs(aS, aE, bS, bE int64) int64 {
	s := maxMs(aS, bS)
	e := minMs(aE, bE)
	if e <= s {
		return 0
	}
	return e - s
}

func aggregate(runs []billing.JobRun, pieces []*piece) []billing.JobRunCostFact {
	byRun := make(map[*billing.JobRun][]*piece)
	for _, p := range pieces {
		byRun[p.run] = append(byRun[p.run], p)
	}

	facts := make([]billing.JobRunCostFact, 0, len(byRun))
	for i := range runs {
		run := &runs[i]
		ps := byRun[run]
		if len(ps) == 0 {
			continue
		}

		f := billing.JobRunCostFact{
			OrgID:         run.OrgID,
			RunID:         run.RunID,
			JobID:         run.JobID,
			IDInJob:       run.IDInJob,
			ClusterID:     run.ClusterID,
			ClusterType:   run.ClusterType,
			TerminalState: run.TerminalState,
			TriggerType:   run.TriggerType,
			TaskType:      run.TaskType,
			StartMs:       run.StartMs,
			EndMs:         run.EndMs,
		}

		days := make(map[string]bool)
		concurrentSum := 0
		for _, p := range ps {
			scale := p.stateUtilPct * p.runStateUtil
			if c := p.slice.Cost; c != nil {
				f.DriverComputeCost += c.DriverCompute * scale
				f.DriverDBUCost += c.DriverDBU * scale
				f.WorkerComputeCost += c.WorkerCompute * scale
				f.WorkerDBUCost += c.WorkerDBU * scale
			}
			f.PotentialCoreHours += p.slice.PotentialWorkerCoreSeconds / 3600.0 * scale

			concurrentSum += p.concurrentRuns
			if p.concurrentRuns > f.MaxConcurrentRuns {
				f.MaxConcurrentRuns = p.concurrentRuns
			}
			markDays(days, p.startMs, p.endMs)
		}

		f.StatesTouched = len(ps)
		f.RunningDays = len(days)
		f.AvgConcurrentRuns = round4(float64(concurrentSum) / float64(len(ps)))

		f.DriverComputeCost = round6(floor0(f.DriverComputeCost))
		f.DriverDBUCost = round6(floor0(f.DriverDBUCost))
		f.WorkerComputeCost = round6(floor0(f.WorkerComputeCost))
		f.WorkerDBUCost = round6(floor0(f.WorkerDBUCost))
		f.TotalDriverCost = round6(f.DriverComputeCost + f.DriverDBUCost)
		f.TotalWorkerCost = round6(f.WorkerComputeCost + f.WorkerDBUCost)
		f.TotalCost = round6(f.TotalDriverCost + f.TotalWorkerCost)
		f.PotentialCoreHours = round6(floor0(f.PotentialCoreHours))

		facts = append(facts, f)
	}

	sort.Slice(facts, func(i, j int) bool {
		if facts[i].OrgID != facts[j].OrgID {
			return facts[i].OrgID < facts[j].OrgID
		}
		return facts[i].RunID < facts[j].RunID
	})
	return facts
}

// markDays records every UTC calendar day the window touches.
func markDays(days map[string]bool, startMs, endMs int64) {
	const msPerDay = 24 * 60 * 60 * 1000
	for d := startMs / msPerDay; d <= endMs/msPerDay; d++ {
		days[billing.MsToTime(d*msPerDay).Format("2006-01-02")] = true
	}
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

func floor0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func minMs(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxMs(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
