// Package pipeline orchestrates one billing window computation: catalog
// validation, timeline reconstruction, state slice building, job run cost
// allocation and utilization enrichment, with the results persisted
// transactionally per window.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clustermeter/clustermeter/internal/metrics"
	"github.com/clustermeter/clustermeter/internal/pipeline/allocate"
	"github.com/clustermeter/clustermeter/internal/pipeline/catalog"
	"github.com/clustermeter/clustermeter/internal/pipeline/reconstruct"
	"github.com/clustermeter/clustermeter/internal/pipeline/slices"
	"github.com/clustermeter/clustermeter/internal/store"
	"github.com/clustermeter/clustermeter/pkg/billing"
)

// Runner executes billing windows against one store.
type Runner struct {
	store            *store.DB
	logger           *slog.Logger
	seedLookbackDays int
}

// NewRunner creates a Runner. seedLookbackDays bounds the pre-window event
// scan used to carry forward each cluster's prior state.
func NewRunner(db *store.DB, logger *slog.Logger, seedLookbackDays int) *Runner {
	return &Runner{
		store:            db,
		logger:           logger.With("component", "pipeline"),
		seedLookbackDays: seedLookbackDays,
	}
}

// Result summarizes one window computation.
type Result struct {
	InvocationID string
	Window       billing.Window
	Events       int
	Slices       int
	Runs         int
}

// Run computes one window end to end. A price catalog validation failure is a
// configuration error: it aborts before any timeline work and nothing is
// written to the fact tables. Partition-level data problems never abort; they
// degrade the affected rows instead.
func (r *Runner) Run(ctx context.Context, window billing.Window) (*Result, error) {
	if window.Until <= window.From {
		return nil, fmt.Errorf("invalid window: from %d >= until %d", window.From, window.Until)
	}

	id := uuid.NewString()
	logger := r.logger.With("invocation", id,
		"from", billing.MsToTime(window.From), "until", billing.MsToTime(window.Until))
	started := time.Now()

	res, err := r.run(ctx, logger, window)

	status := "ok"
	detail := ""
	if err != nil {
		status = "error"
		var verr *catalog.ValidationError
		if errors.As(err, &verr) {
			status = "config_error"
			metrics.CatalogValidationFailures.Inc()
		}
		detail = err.Error()
		res = &Result{}
	}
	metrics.WindowsProcessed.WithLabelValues(status).Inc()
	metrics.WindowDuration.Observe(time.Since(started).Seconds())

	audit := store.PipelineRun{
		ID:          id,
		StartedAt:   started,
		FinishedAt:  time.Now(),
		WindowFrom:  window.From,
		WindowUntil: window.Until,
		Status:      status,
		Events:      res.Events,
		Slices:      res.Slices,
		Runs:        res.Runs,
		Detail:      detail,
	}
	if aerr := r.store.RecordPipelineRun(ctx, audit); aerr != nil {
		logger.Error("recording pipeline run failed", "error", aerr)
	}

	if err != nil {
		logger.Error("window failed", "status", status, "error", err)
		return nil, err
	}
	res.InvocationID = id
	res.Window = window
	logger.Info("window complete",
		"events", res.Events, "slices", res.Slices, "runs", res.Runs,
		"took", time.Since(started))
	return res, nil
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, window billing.Window) (*Result, error) {
	entries, err := r.store.PriceCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if err := catalog.Validate(entries, window.Until); err != nil {
		return nil, err
	}

	lookbackFrom := window.From - int64(r.seedLookbackDays)*24*int64(time.Hour/time.Millisecond)
	beforeRaw, err := r.store.EventsBetween(ctx, lookbackFrom, window.From)
	if err != nil {
		return nil, err
	}
	withinRaw, err := r.store.EventsBetween(ctx, window.From, window.Until)
	if err != nil {
		return nil, err
	}
	metrics.EventsProcessed.Add(float64(len(withinRaw)))

	before := reconstruct.Reconstruct(beforeRaw, billing.Window{From: lookbackFrom, Until: window.From})
	within := reconstruct.Reconstruct(withinRaw, window)
	for _, e := range within {
		if e.Imputed {
			metrics.ImputedTerminations.Inc()
		}
	}

	specs, err := r.store.ClusterSpecs(ctx)
	if err != nil {
		return nil, err
	}

	builder := slices.NewBuilder(catalog.NewIndex(entries, window.Until), specs, window)
	slcs := builder.Build(before, within)
	metrics.SlicesBuilt.Add(float64(len(slcs)))

	unpriced := 0
	slicePtrs := make([]*billing.StateSlice, len(slcs))
	for i := range slcs {
		slicePtrs[i] = &slcs[i]
		if slcs[i].Cost == nil {
			unpriced++
		}
	}
	if unpriced > 0 {
		metrics.UnpricedSlices.Add(float64(unpriced))
		logger.Warn("slices without a price catalog match", "count", unpriced)
	}

	if err := r.store.WriteStateSlices(ctx, window, slicePtrs); err != nil {
		return nil, fmt.Errorf("persisting state slices: %w", err)
	}

	runs, err := r.store.JobRunsBetween(ctx, window.From, window.Until)
	if err != nil {
		return nil, err
	}
	facts := allocate.Allocate(slcs, runs)

	tasks, err := r.store.TaskRuntimeBetween(ctx, window.From, window.Until)
	if err != nil {
		return nil, err
	}
	facts = allocate.Enrich(facts, tasks)
	metrics.RunsAllocated.Add(float64(len(facts)))

	factPtrs := make([]*billing.JobRunCostFact, len(facts))
	for i := range facts {
		factPtrs[i] = &facts[i]
	}
	if err := r.store.WriteJobRunFacts(ctx, window, factPtrs); err != nil {
		return nil, fmt.Errorf("persisting job run facts: %w", err)
	}

	return &Result{
		Events: len(withinRaw),
		Slices: len(slcs),
		Runs:   len(facts),
	}, nil
}
