// Package catalog validates the effective-dated node pricing reference table
// and serves point-in-time lookups against it.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/clustermeter/clustermeter/pkg/billing"
)

const msPerDay = 24 * 60 * 60 * 1000

// BadRecord describes one catalog row that breaks the gap/overlap contract.
type BadRecord struct {
	Key           string
	PreviousUntil *int64
	ActiveFrom    int64
	GapDays       float64
	Duplicate     bool
}

// ValidationError is the fatal report produced when the price catalog fails
// its type-2 integrity check. The catalog is a user-edited table, so the
// error carries enough row detail for an operator to fix it.
type ValidationError struct {
	Keys    []string
	Records []BadRecord
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("price catalog validation failed: %d bad record(s) across keys %s",
		len(e.Records), strings.Join(e.Keys, ", "))
}

// NormalizeKey canonicalizes a node type identifier for catalog matching.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Validate checks that, per normalized node type key, catalog records are
// totally ordered by active_from with no gap, no overlap, and at most one
// open-ended (current) record. Null active_until is coalesced to asOf for
// comparison only. Any violation anywhere fails the whole catalog.
func Validate(entries []billing.PriceCatalogEntry, asOf int64) error {
	byKey := make(map[string][]billing.PriceCatalogEntry)
	for _, e := range entries {
		k := NormalizeKey(e.NodeTypeKey)
		byKey[k] = append(byKey[k], e)
	}

	var bad []BadRecord
	badKeys := make(map[string]bool)

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		recs := byKey[k]
		sort.Slice(recs, func(i, j int) bool {
			if recs[i].ActiveFrom != recs[j].ActiveFrom {
				return recs[i].ActiveFrom < recs[j].ActiveFrom
			}
			return coalesceUntil(recs[i].ActiveUntil, asOf) < coalesceUntil(recs[j].ActiveUntil, asOf)
		})

		seen := make(map[[2]int64]int)
		var prevUntil *int64
		for _, r := range recs {
			until := coalesceUntil(r.ActiveUntil, asOf)

			// Exactly one record per (key, active_from, active_until).
			dupKey := [2]int64{r.ActiveFrom, until}
			seen[dupKey]++
			if seen[dupKey] > 1 {
				bad = append(bad, BadRecord{Key: k, PreviousUntil: prevUntil, ActiveFrom: r.ActiveFrom, Duplicate: true})
				badKeys[k] = true
				continue
			}

			if prevUntil != nil && r.ActiveFrom != *prevUntil {
				bad = append(bad, BadRecord{
					Key:           k,
					PreviousUntil: prevUntil,
					ActiveFrom:    r.ActiveFrom,
					GapDays:       float64(r.ActiveFrom-*prevUntil) / msPerDay,
				})
				badKeys[k] = true
			}
			u := until
			prevUntil = &u
		}
	}

	if len(bad) == 0 {
		return nil
	}
	verr := &ValidationError{Records: bad}
	for k := range badKeys {
		verr.Keys = append(verr.Keys, k)
	}
	sort.Strings(verr.Keys)
	return verr
}

func coalesceUntil(until *int64, asOf int64) int64 {
	if until == nil {
		return asOf
	}
	return *until
}
