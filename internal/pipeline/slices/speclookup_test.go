package slices

import (
	"testing"

	"github.com/clustermeter/clustermeter/pkg/billing"
)

func spec(cluster string, effective int64, name string, src billing.SpecSource) billing.ClusterSpec {
	return billing.ClusterSpec{
		OrgID: "org1", ClusterID: cluster, EffectiveMs: effective,
		ClusterName: name, DriverNodeType: "d1", WorkerNodeType: "w1", Source: src,
	}
}

func TestSpecLookupNearestPrior(t *testing.T) {
	l := NewSpecLookup([]billing.ClusterSpec{
		spec("c1", 1000, "v1", billing.SpecSourceLive),
		spec("c1", 5000, "v2", billing.SpecSourceLive),
	})

	tests := []struct {
		name string
		ts   int64
		want string
	}{
		{"between versions", 3000, "v1"},
		{"exact boundary", 5000, "v2"},
		{"after last", 9000, "v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := l.At("org1", "c1", tt.ts)
			if !ok || got.ClusterName != tt.want {
				t.Errorf("At(%d) = %q ok=%v, want %q", tt.ts, got.ClusterName, ok, tt.want)
			}
		})
	}
}

func TestSpecLookupImmediateNextFallback(t *testing.T) {
	l := NewSpecLookup([]billing.ClusterSpec{
		spec("c1", 5000, "only", billing.SpecSourceSnapshot),
	})
	got, ok := l.At("org1", "c1", 1000)
	if !ok || got.ClusterName != "only" {
		t.Errorf("a timestamp before any record must fall forward to the next one, got %q ok=%v", got.ClusterName, ok)
	}
}

func TestSpecLookupSnapshotWinsAtTie(t *testing.T) {
	l := NewSpecLookup([]billing.ClusterSpec{
		spec("c1", 1000, "live-name", billing.SpecSourceLive),
		spec("c1", 1000, "snapshot-name", billing.SpecSourceSnapshot),
	})
	got, _ := l.At("org1", "c1", 2000)
	if got.ClusterName != "snapshot-name" {
		t.Errorf("snapshot record must win at an equal effective time, got %q", got.ClusterName)
	}
}

func TestSpecLookupUnknownCluster(t *testing.T) {
	l := NewSpecLookup(nil)
	if _, ok := l.At("org1", "missing", 1000); ok {
		t.Error("unknown cluster must report no spec")
	}
}
