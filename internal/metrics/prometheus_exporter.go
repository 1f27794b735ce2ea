// Package metrics exposes Prometheus instrumentation for the metering
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline run metrics
	WindowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clustermeter",
		Name:      "windows_processed_total",
		Help:      "Total billing windows processed, by outcome",
	}, []string{"status"}) // "ok", "config_error", "error"

	WindowDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "clustermeter",
		Name:      "window_duration_seconds",
		Help:      "Wall time to compute one billing window",
		Buckets:   prometheus.DefBuckets,
	})

	// Reconstruction metrics
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clustermeter",
		Name:      "events_processed_total",
		Help:      "Total lifecycle events fed to the reconstructor",
	})

	ImputedTerminations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clustermeter",
		Name:      "imputed_terminations_total",
		Help:      "Synthetic termination events inserted to repair invalid state chains",
	})

	// Slice metrics
	SlicesBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clustermeter",
		Name:      "state_slices_built_total",
		Help:      "Total state slices emitted",
	})

	UnpricedSlices = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clustermeter",
		Name:      "unpriced_slices_total",
		Help:      "Slices with no price catalog match, persisted with null cost",
	})

	// Allocation metrics
	RunsAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clustermeter",
		Name:      "job_runs_allocated_total",
		Help:      "Job runs that received a cost fact",
	})

	// Catalog metrics
	CatalogValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clustermeter",
		Name:      "catalog_validation_failures_total",
		Help:      "Windows aborted because the price catalog had gaps or overlaps",
	})
)
