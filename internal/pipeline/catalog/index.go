package catalog

import (
	"sort"

	"github.com/clustermeter/clustermeter/pkg/billing"
)

// Index answers effective-dated price lookups: for a normalized node type key
// and a timestamp, the entry whose [active_from, active_until) range covers
// the timestamp. Entries are kept sorted per key for binary search.
type Index struct {
	byKey map[string][]billing.PriceCatalogEntry
	asOf  int64
}

// NewIndex builds a lookup index over a validated catalog. asOf is the window
// end used to close open-ended current records.
func NewIndex(entries []billing.PriceCatalogEntry, asOf int64) *Index {
	idx := &Index{byKey: make(map[string][]billing.PriceCatalogEntry), asOf: asOf}
	for _, e := range entries {
		k := NormalizeKey(e.NodeTypeKey)
		idx.byKey[k] = append(idx.byKey[k], e)
	}
	for k := range idx.byKey {
		recs := idx.byKey[k]
		sort.Slice(recs, func(i, j int) bool { return recs[i].ActiveFrom < recs[j].ActiveFrom })
		idx.byKey[k] = recs
	}
	return idx
}

// Lookup returns the catalog entry effective at ts for the given node type,
// or false when no version covers it.
func (idx *Index) Lookup(nodeType string, ts int64) (billing.PriceCatalogEntry, bool) {
	recs := idx.byKey[NormalizeKey(nodeType)]
	if len(recs) == 0 {
		return billing.PriceCatalogEntry{}, false
	}
	// Rightmost entry with ActiveFrom <= ts.
	i := sort.Search(len(recs), func(i int) bool { return recs[i].ActiveFrom > ts }) - 1
	if i < 0 {
		return billing.PriceCatalogEntry{}, false
	}
	// An open-ended current record covers everything from its ActiveFrom; a
	// closed record only covers [ActiveFrom, ActiveUntil).
	if recs[i].ActiveUntil != nil && ts >= *recs[i].ActiveUntil {
		return billing.PriceCatalogEntry{}, false
	}
	return recs[i], true
}
