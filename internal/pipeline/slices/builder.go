// Package slices turns the denoised event stream into contiguous,
// non-overlapping cluster state intervals, joins each interval to the
// effective-dated price catalog, and computes interval-level cost and
// potential compute capacity.
package slices

import (
	"regexp"
	"sort"

	"github.com/clustermeter/clustermeter/internal/pipeline/catalog"
	"github.com/clustermeter/clustermeter/internal/pipeline/reconstruct"
	"github.com/clustermeter/clustermeter/pkg/billing"
)

// Job-owned clusters follow the platform naming convention, e.g.
// "job-8112-run-211".
var automatedNameRe = regexp.MustCompile(`^job-\d+-run-\d+`)

// Builder assembles state slices for one window.
type Builder struct {
	prices *catalog.Index
	specs  *SpecLookup
	window billing.Window
}

// NewBuilder creates a Builder over a validated price index and the merged
// cluster spec/snapshot tables.
func NewBuilder(prices *catalog.Index, specs []billing.ClusterSpec, window billing.Window) *Builder {
	return &Builder{
		prices: prices,
		specs:  NewSpecLookup(specs),
		window: window,
	}
}

// Build produces the state slices for the window. before carries denoised
// events preceding the window; per cluster exactly one prior non-terminated
// state is carried forward as a seed, clamped to the window start, so an
// incremental run does not fabricate a "cluster just started" boundary.
func (b *Builder) Build(before, within []reconstruct.Event) []billing.StateSlice {
	type partKey struct{ org, cluster string }

	seeds := make(map[partKey]reconstruct.Event)
	for _, e := range before {
		k := partKey{e.OrgID, e.ClusterID}
		// Events arrive partition-sorted with TERMINATING last at a timestamp
		// tie, so the final element is the preferred boundary state.
		seeds[k] = e
	}

	parts := make(map[partKey][]reconstruct.Event)
	for _, e := range within {
		k := partKey{e.OrgID, e.ClusterID}
		parts[k] = append(parts[k], e)
	}

	keys := make([]partKey, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].org != keys[j].org {
			return keys[i].org < keys[j].org
		}
		return keys[i].cluster < keys[j].cluster
	})

	var out []billing.StateSlice
	for _, k := range keys {
		events := parts[k]
		if seed, ok := seeds[k]; ok && seed.Type != billing.EventTerminating {
			seed.Timestamp = b.window.From
			if len(events) == 0 || events[0].Timestamp > seed.Timestamp {
				events = append([]reconstruct.Event{seed}, events...)
			}
		}
		out = append(out, b.buildPartition(events)...)
	}
	return out
}

func (b *Builder) buildPartition(events []reconstruct.Event) []billing.StateSlice {
	var out []billing.StateSlice
	var sinceReset float64

	for i, ev := range events {
		last := i == len(events)-1
		var end int64
		if last {
			// Open-ended intervals are not billed; only a TERMINATING tail is
			// kept, as a zero-length closing slice.
			if ev.Type != billing.EventTerminating {
				continue
			}
			end = ev.Timestamp
		} else {
			end = events[i+1].Timestamp - 1
		}

		reset := i == 0 || events[i-1].Type.ResetsUptime() || !events[i-1].IsRunning
		if reset {
			sinceReset = 0
		}
		uptime := float64(end-ev.Timestamp) / 1000.0
		sinceReset += uptime

		s := billing.StateSlice{
			OrgID:     ev.OrgID,
			ClusterID: ev.ClusterID,
			Type:      ev.Type,
			StartMs:   ev.Timestamp,
			EndMs:     end,

			IsRunning:          ev.IsRunning,
			CloudBillable:      ev.IsRunning,
			DatabricksBillable: ev.IsRunning && databricksBillableType(ev.Type),
			Imputed:            ev.Imputed,

			CurrentNodes: ev.CurrentNodes,
			TargetNodes:  ev.TargetNodes,

			UptimeSeconds:           uptime,
			UptimeSinceResetSeconds: sinceReset,
		}

		if spec, ok := b.specs.At(ev.OrgID, ev.ClusterID, ev.Timestamp); ok {
			s.ClusterName = spec.ClusterName
			s.DriverNodeType = spec.DriverNodeType
			s.WorkerNodeType = spec.WorkerNodeType
			s.IsAutomated = automatedNameRe.MatchString(spec.ClusterName)
		}
		b.price(&s)

		out = append(out, s)
	}
	return out
}

// price joins the slice to the effective-dated catalog and fills in the cost
// breakdown. A slice with no driver or worker match keeps a nil breakdown:
// missing reference data degrades that slice, it does not fail the run.
func (b *Builder) price(s *billing.StateSlice) {
	if s.DriverNodeType == "" && s.WorkerNodeType == "" {
		return
	}
	driver, dok := b.prices.Lookup(s.DriverNodeType, s.StartMs)
	worker, wok := b.prices.Lookup(s.WorkerNodeType, s.StartMs)

	nodes := 0
	if s.CurrentNodes != nil {
		nodes = *s.CurrentNodes
	}
	if wok && s.CloudBillable {
		s.PotentialWorkerCoreSeconds = float64(worker.VCPUs) * float64(nodes) * s.UptimeSeconds
	}

	if !dok || !wok {
		return
	}

	hours := s.UptimeHours()
	var c billing.CostBreakdown
	if s.CloudBillable {
		c.DriverCompute = driver.HourlyComputeRate * hours
		c.WorkerCompute = worker.HourlyComputeRate * float64(nodes) * hours
	}
	if s.DatabricksBillable {
		c.DriverDBU = driver.HourlyDBURate * hours
		c.WorkerDBU = worker.HourlyDBURate * float64(nodes) * hours
	}
	c.TotalDriver = c.DriverCompute + c.DriverDBU
	c.TotalWorker = c.WorkerCompute + c.WorkerDBU
	c.Total = c.TotalDriver + c.TotalWorker
	s.Cost = &c
}

func databricksBillableType(t billing.EventType) bool {
	switch t {
	case billing.EventStarting, billing.EventTerminating,
		billing.EventCreating, billing.EventRestarting:
		return false
	}
	return true
}
