// Package reconstruct turns the raw, unordered, occasionally contradictory
// cluster lifecycle event stream into a denoised per-cluster timeline with a
// resolved running flag and imputed node counts.
package reconstruct

import (
	"sort"

	"github.com/clustermeter/clustermeter/pkg/billing"
)

// neighborLimit bounds how far the switch lookback/lookahead scans reach.
// Real clusters never accumulate anywhere near this many unresolved events
// between two hard switches.
const neighborLimit = 1000

// Event is a denoised lifecycle event: the raw event plus the resolved
// running state and imputed node counts. Imputed marks synthetic TERMINATING
// rows inserted to repair an invalid event chain.
type Event struct {
	OrgID     string
	ClusterID string
	Timestamp int64
	Type      billing.EventType

	IsRunning bool
	Imputed   bool

	CurrentNodes *int
	TargetNodes  *int
}

// Reconstruct denoises all events falling inside the window, independently
// per (org, cluster) partition. It is a pure function: identical input yields
// identical output regardless of input ordering, because each partition is
// sorted internally before scanning.
func Reconstruct(events []billing.LifecycleEvent, window billing.Window) []Event {
	type partKey struct{ org, cluster string }
	parts := make(map[partKey][]billing.LifecycleEvent)
	for _, e := range events {
		if !window.Contains(e.Timestamp) {
			continue
		}
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

	var out []Event
	for _, k := range keys {
		out = append(out, reconstructPartition(parts[k])...)
	}
	return out
}

// SortEvents orders one partition's events by timestamp; at a shared
// timestamp TERMINATING sorts last so it wins as the surviving state, with a
// final event-type tiebreak for determinism.
func SortEvents(events []billing.LifecycleEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		at, bt := a.Type == billing.EventTerminating, b.Type == billing.EventTerminating
		if at != bt {
			return bt
		}
		return a.Type < b.Type
	})
}

// runningSwitch is the only directly observable running signal: TERMINATING
// says off, CREATING/STARTING say on, everything else says nothing.
func runningSwitch(t billing.EventType) *bool {
	switch t {
	case billing.EventTerminating:
		return boolPtr(false)
	case billing.EventCreating, billing.EventStarting:
		return boolPtr(true)
	}
	return nil
}

// row is an event being resolved, with its observable switch attached.
type row struct {
	ev  Event
	raw billing.LifecycleEvent
	sw  *bool
}

func reconstructPartition(events []billing.LifecycleEvent) []Event {
	SortEvents(events)

	rows := explodeInvalidChains(events)
	resolveRunning(rows)
	resolveNodeCounts(rows)

	out := make([]Event, len(rows))
	for i, r := range rows {
		out[i] = r.ev
	}
	return out
}

// explodeInvalidChains detects two consecutive known switches with the same
// direction (e.g. two STARTINGs with no TERMINATING between: the source
// stream dropped a termination event) and repairs the chain by inserting a
// synthetic TERMINATING row at the previous row's timestamp + 1ms. At most
// one extra row is produced per input event.
func explodeInvalidChains(events []billing.LifecycleEvent) []*row {
	rows := make([]*row, 0, len(events))
	var prevSwitch *bool
	for _, e := range events {
		sw := runningSwitch(e.Type)
		if sw != nil && prevSwitch != nil && *sw == *prevSwitch {
			prev := rows[len(rows)-1]
			imp := &row{
				ev: Event{
					OrgID:     e.OrgID,
					ClusterID: e.ClusterID,
					Timestamp: prev.ev.Timestamp + 1,
					Type:      billing.EventTerminating,
					Imputed:   true,
				},
				sw: boolPtr(false),
			}
			rows = append(rows, imp)
			prevSwitch = boolPtr(false)
		}
		r := &row{
			ev: Event{
				OrgID:     e.OrgID,
				ClusterID: e.ClusterID,
				Timestamp: e.Timestamp,
				Type:      e.Type,
			},
			raw: e,
			sw:  sw,
		}
		rows = append(rows, r)
		if sw != nil {
			prevSwitch = sw
		}
	}
	return rows
}

// resolveRunning applies the disambiguation cascade: concrete evidence beats
// local propagation beats the anchor-type heuristic beats global fill beats
// the pessimistic default.
func resolveRunning(rows []*row) {
	resolved := make([]*bool, len(rows))

	for i, r := range rows {
		// Imputed terminating rows are never running.
		if r.ev.Imputed {
			resolved[i] = boolPtr(false)
			continue
		}
		// Last known switch up to and including this row: an event's own
		// TERMINATING or CREATING/STARTING evidence wins outright.
		if last := lastSwitch(rows, i); last != nil {
			resolved[i] = last
			continue
		}
		// First known switch strictly after, negated: a coming TERMINATING
		// means the cluster is currently up, a coming STARTING means it is not.
		if next := nextSwitch(rows, i); next != nil {
			resolved[i] = boolPtr(!*next)
			continue
		}
		if r.ev.Type.AnchorRunning() {
			resolved[i] = boolPtr(true)
		}
	}

	// Forward fill from the nearest earlier resolved value.
	var carry *bool
	for i := range rows {
		if resolved[i] != nil {
			carry = resolved[i]
		} else if carry != nil {
			resolved[i] = carry
		}
	}
	// Backward fill, negated, for any leading unresolved prefix.
	var ahead *bool
	for i := len(rows) - 1; i >= 0; i-- {
		if resolved[i] != nil {
			ahead = resolved[i]
		} else if ahead != nil {
			resolved[i] = boolPtr(!*ahead)
		}
	}

	for i, r := range rows {
		if resolved[i] != nil {
			r.ev.IsRunning = *resolved[i]
		} else {
			r.ev.IsRunning = false
		}
	}
}

func lastSwitch(rows []*row, i int) *bool {
	lo := i - neighborLimit
	if lo < 0 {
		lo = 0
	}
	for j := i; j >= lo; j-- {
		if rows[j].sw != nil {
			return rows[j].sw
		}
	}
	return nil
}

func nextSwitch(rows []*row, i int) *bool {
	hi := i + neighborLimit
	if hi > len(rows)-1 {
		hi = len(rows) - 1
	}
	for j := i + 1; j <= hi; j++ {
		if rows[j].sw != nil {
			return rows[j].sw
		}
	}
	return nil
}

// resolveNodeCounts imputes current/target node counts for running rows:
// explicit report, else size hint, else the autoscale minimum, else the last
// known value. The target additionally re-seeds from the size hint on
// CREATING. Non-running rows carry no counts.
func resolveNodeCounts(rows []*row) {
	var lastCurrent, lastTarget *int
	for _, r := range rows {
		if !r.ev.IsRunning || r.ev.Imputed {
			r.ev.CurrentNodes = nil
			r.ev.TargetNodes = nil
			continue
		}
		raw := r.raw

		cur := coalesceInt(raw.CurrentNodes, raw.SizeHint, raw.AutoscaleMin, lastCurrent)
		var tgt *int
		if r.ev.Type == billing.EventCreating && raw.SizeHint != nil {
			tgt = raw.SizeHint
		} else {
			tgt = coalesceInt(raw.TargetNodes, raw.SizeHint, raw.AutoscaleMin, lastTarget)
		}

		r.ev.CurrentNodes = copyInt(cur)
		r.ev.TargetNodes = copyInt(tgt)
		if cur != nil {
			lastCurrent = cur
		}
		if tgt != nil {
			lastTarget = tgt
		}
	}
}

func coalesceInt(vals ...*int) *int {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func boolPtr(b bool) *bool { return &b }
