package slices

import (
	"sort"

	"github.com/clustermeter/clustermeter/pkg/billing"
)

// SpecLookup resolves cluster metadata (name, driver/worker node types) for a
// timestamp, merging the live spec table with the point-in-time snapshot
// table. Resolution picks the nearest record at or before the timestamp, and
// falls back to the immediate next record when the cluster has no earlier
// history — a single-record lookahead.
type SpecLookup struct {
	byCluster map[string][]billing.ClusterSpec
}

func NewSpecLookup(specs []billing.ClusterSpec) *SpecLookup {
	l := &SpecLookup{byCluster: make(map[string][]billing.ClusterSpec)}
	for _, s := range specs {
		k := specKey(s.OrgID, s.ClusterID)
		l.byCluster[k] = append(l.byCluster[k], s)
	}
	for k := range l.byCluster {
		recs := l.byCluster[k]
		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].EffectiveMs != recs[j].EffectiveMs {
				return recs[i].EffectiveMs < recs[j].EffectiveMs
			}
			// Snapshot entries win over live entries at the same instant.
			return recs[i].Source == billing.SpecSourceLive && recs[j].Source == billing.SpecSourceSnapshot
		})
		l.byCluster[k] = recs
	}
	return l
}

// At returns the effective spec for the cluster at ts.
func (l *SpecLookup) At(orgID, clusterID string, ts int64) (billing.ClusterSpec, bool) {
	recs := l.byCluster[specKey(orgID, clusterID)]
	if len(recs) == 0 {
		return billing.ClusterSpec{}, false
	}
	i := sort.Search(len(recs), func(i int) bool { return recs[i].EffectiveMs > ts }) - 1
	if i < 0 {
		// No prior record: use the immediate next one.
		return recs[0], true
	}
	return recs[i], true
}

func specKey(orgID, clusterID string) string {
	return orgID + "|" + clusterID
}
