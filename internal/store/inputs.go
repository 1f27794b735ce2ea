package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clustermeter/clustermeter/pkg/billing"
)

// EventsBetween loads lifecycle events with from <= ts < until, unordered;
// the reconstructor sorts per partition itself.
func (d *DB) EventsBetween(ctx context.Context, from, until int64) ([]billing.LifecycleEvent, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT org_id, cluster_id, ts, event_type, current_nodes, target_nodes, size_hint, autoscale_min
		 FROM cluster_events WHERE ts >= ? AND ts < ?`,
		from, until,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cluster events: %w", err)
	}
	defer rows.Close()

	var out []billing.LifecycleEvent
	for rows.Next() {
		var e billing.LifecycleEvent
		var typ string
		var cur, tgt, hint, amin sql.NullInt64
		if err := rows.Scan(&e.OrgID, &e.ClusterID, &e.Timestamp, &typ, &cur, &tgt, &hint, &amin); err != nil {
			return nil, fmt.Errorf("scanning cluster event: %w", err)
		}
		e.Type = billing.EventType(typ)
		e.CurrentNodes = nullableInt(cur)
		e.TargetNodes = nullableInt(tgt)
		e.SizeHint = nullableInt(hint)
		e.AutoscaleMin = nullableInt(amin)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClusterSpecs loads the merged live and point-in-time spec records.
func (d *DB) ClusterSpecs(ctx context.Context) ([]billing.ClusterSpec, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT org_id, cluster_id, effective_ms, cluster_name, driver_node_type, worker_node_type, source
		 FROM cluster_specs`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cluster specs: %w", err)
	}
	defer rows.Close()

	var out []billing.ClusterSpec
	for rows.Next() {
		var s billing.ClusterSpec
		var src string
		if err := rows.Scan(&s.OrgID, &s.ClusterID, &s.EffectiveMs, &s.ClusterName,
			&s.DriverNodeType, &s.WorkerNodeType, &src); err != nil {
			return nil, fmt.Errorf("scanning cluster spec: %w", err)
		}
		s.Source = billing.SpecSource(src)
		out = append(out, s)
	}
	return out, rows.Err()
}

// PriceCatalog loads every catalog version; validation happens before use.
func (d *DB) PriceCatalog(ctx context.Context) ([]billing.PriceCatalogEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT node_type_key, active_from, active_until, vcpus, hourly_compute_rate, hourly_dbu_rate
		 FROM price_catalog`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying price catalog: %w", err)
	}
	defer rows.Close()

	var out []billing.PriceCatalogEntry
	for rows.Next() {
		var e billing.PriceCatalogEntry
		var until sql.NullInt64
		if err := rows.Scan(&e.NodeTypeKey, &e.ActiveFrom, &until, &e.VCPUs,
			&e.HourlyComputeRate, &e.HourlyDBURate); err != nil {
			return nil, fmt.Errorf("scanning catalog entry: %w", err)
		}
		if until.Valid {
			u := until.Int64
			e.ActiveUntil = &u
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// JobRunsBetween loads terminal job runs whose time range intersects the
// window.
func (d *DB) JobRunsBetween(ctx context.Context, from, until int64) ([]billing.JobRun, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT org_id, run_id, job_id, id_in_job, cluster_id, cluster_type,
		        start_ms, end_ms, terminal_state, trigger_type, task_type
		 FROM job_runs WHERE start_ms < ? AND end_ms >= ?`,
		until, from,
	)
	if err != nil {
		return nil, fmt.Errorf("querying job runs: %w", err)
	}
	defer rows.Close()

	var out []billing.JobRun
	for rows.Next() {
		var r billing.JobRun
		var ct string
		if err := rows.Scan(&r.OrgID, &r.RunID, &r.JobID, &r.IDInJob, &r.ClusterID, &ct,
			&r.StartMs, &r.EndMs, &r.TerminalState, &r.TriggerType, &r.TaskType); err != nil {
			return nil, fmt.Errorf("scanning job run: %w", err)
		}
		r.ClusterType = billing.JobClusterType(ct)
		out = append(out, r)
	}
	return out, rows.Err()
}

// TaskRuntimeBetween loads task telemetry started inside the window. An empty
// result means the telemetry source had nothing for this window and the
// utilization fields stay null downstream.
func (d *DB) TaskRuntimeBetween(ctx context.Context, from, until int64) ([]billing.TaskRuntime, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT org_id, job_id, id_in_job, started_ms, duration_ms
		 FROM task_runtime WHERE started_ms >= ? AND started_ms < ?`,
		from, until,
	)
	if err != nil {
		return nil, fmt.Errorf("querying task runtime: %w", err)
	}
	defer rows.Close()

	var out []billing.TaskRuntime
	for rows.Next() {
		var t billing.TaskRuntime
		if err := rows.Scan(&t.OrgID, &t.JobID, &t.IDInJob, &t.StartedMs, &t.DurationMs); err != nil {
			return nil, fmt.Errorf("scanning task runtime: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
