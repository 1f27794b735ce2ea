package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clustermeter/clustermeter/pkg/billing"
)

// WriteStateSlices replaces the state slices of one window in a single
// transaction. Deleting the window range first makes re-runs idempotent.
func (d *DB) WriteStateSlices(ctx context.Context, window billing.Window, slices []*billing.StateSlice) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning slice tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM state_slices WHERE window_from = ? AND window_until = ?`,
		window.From, window.Until,
	); err != nil {
		return fmt.Errorf("clearing window slices: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO state_slices (
			window_from, window_until, org_id, cluster_id, state_type,
			start_ms, end_ms, is_running, cloud_billable, databricks_billable, imputed,
			current_nodes, target_nodes, cluster_name, driver_node_type, worker_node_type,
			is_automated, uptime_s, uptime_since_reset_s, potential_worker_core_s,
			driver_compute_cost, driver_dbu_cost, worker_compute_cost, worker_dbu_cost,
			total_driver_cost, total_worker_cost, total_cost
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing slice insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range slices {
		var dc, dd, wc, wd, td, tw, tt sql.NullFloat64
		if s.Cost != nil {
			dc = sql.NullFloat64{Float64: s.Cost.DriverCompute, Valid: true}
			dd = sql.NullFloat64{Float64: s.Cost.DriverDBU, Valid: true}
			wc = sql.NullFloat64{Float64: s.Cost.WorkerCompute, Valid: true}
			wd = sql.NullFloat64{Float64: s.Cost.WorkerDBU, Valid: true}
			td = sql.NullFloat64{Float64: s.Cost.TotalDriver, Valid: true}
			tw = sql.NullFloat64{Float64: s.Cost.TotalWorker, Valid: true}
			tt = sql.NullFloat64{Float64: s.Cost.Total, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			window.From, window.Until, s.OrgID, s.ClusterID, string(s.Type),
			s.StartMs, s.EndMs, boolToInt(s.IsRunning), boolToInt(s.CloudBillable),
			boolToInt(s.DatabricksBillable), boolToInt(s.Imputed),
			intPtrValue(s.CurrentNodes), intPtrValue(s.TargetNodes),
			s.ClusterName, s.DriverNodeType, s.WorkerNodeType,
			boolToInt(s.IsAutomated), s.UptimeSeconds, s.UptimeSinceResetSeconds,
			s.PotentialWorkerCoreSeconds,
			dc, dd, wc, wd, td, tw, tt,
		); err != nil {
			return fmt.Errorf("inserting slice for %s/%s: %w", s.OrgID, s.ClusterID, err)
		}
	}

	return tx.Commit()
}

// WriteJobRunFacts replaces the job run cost facts of one window in a single
// transaction.
func (d *DB) WriteJobRunFacts(ctx context.Context, window billing.Window, facts []*billing.JobRunCostFact) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fact tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM job_run_costs WHERE window_from = ? AND window_until = ?`,
		window.From, window.Until,
	); err != nil {
		return fmt.Errorf("clearing window facts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO job_run_costs (
			window_from, window_until, org_id, run_id, job_id, id_in_job,
			cluster_id, cluster_type, terminal_state, trigger_type, task_type,
			start_ms, end_ms, running_days, states_touched,
			avg_concurrent_runs, max_concurrent_runs, potential_core_hours,
			driver_compute_cost, driver_dbu_cost, worker_compute_cost, worker_dbu_cost,
			total_driver_cost, total_worker_cost, total_cost,
			task_runtime_hours, task_core_hours, cluster_utilization
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing fact insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		if _, err := stmt.ExecContext(ctx,
			window.From, window.Until, f.OrgID, f.RunID, f.JobID, f.IDInJob,
			f.ClusterID, string(f.ClusterType), f.TerminalState, f.TriggerType, f.TaskType,
			f.StartMs, f.EndMs, f.RunningDays, f.StatesTouched,
			f.AvgConcurrentRuns, f.MaxConcurrentRuns, f.PotentialCoreHours,
			f.DriverComputeCost, f.DriverDBUCost, f.WorkerComputeCost, f.WorkerDBUCost,
			f.TotalDriverCost, f.TotalWorkerCost, f.TotalCost,
			floatPtrValue(f.TaskRuntimeHours), floatPtrValue(f.TaskCoreHours),
			floatPtrValue(f.ClusterUtilization),
		); err != nil {
			return fmt.Errorf("inserting fact for run %d: %w", f.RunID, err)
		}
	}

	return tx.Commit()
}

// StateSlicesForWindow reads back the persisted slices of one window, ordered
// by partition then start time.
func (d *DB) StateSlicesForWindow(ctx context.Context, window billing.Window) ([]*billing.StateSlice, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT org_id, cluster_id, state_type, start_ms, end_ms,
		        is_running, cloud_billable, databricks_billable, imputed,
		        current_nodes, target_nodes, cluster_name, driver_node_type, worker_node_type,
		        is_automated, uptime_s, uptime_since_reset_s, potential_worker_core_s,
		        driver_compute_cost, driver_dbu_cost, worker_compute_cost, worker_dbu_cost,
		        total_driver_cost, total_worker_cost, total_cost
		 FROM state_slices WHERE window_from = ? AND window_until = ?
		 ORDER BY org_id, cluster_id, start_ms`,
		window.From, window.Until,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state slices: %w", err)
	}
	defer rows.Close()

	var out []*billing.StateSlice
	for rows.Next() {
		s := &billing.StateSlice{}
		var typ string
		var running, cloud, dbx, imputed, automated int
		var cur, tgt sql.NullInt64
		var dc, dd, wc, wd, td, tw, tt sql.NullFloat64
		if err := rows.Scan(&s.OrgID, &s.ClusterID, &typ, &s.StartMs, &s.EndMs,
			&running, &cloud, &dbx, &imputed,
			&cur, &tgt, &s.ClusterName, &s.DriverNodeType, &s.WorkerNodeType,
			&automated, &s.UptimeSeconds, &s.UptimeSinceResetSeconds, &s.PotentialWorkerCoreSeconds,
			&dc, &dd, &wc, &wd, &td, &tw, &tt); err != nil {
			return nil, fmt.Errorf("scanning state slice: %w", err)
		}
		s.Type = billing.EventType(typ)
		s.IsRunning = running != 0
		s.CloudBillable = cloud != 0
		s.DatabricksBillable = dbx != 0
		s.Imputed = imputed != 0
		s.IsAutomated = automated != 0
		s.CurrentNodes = nullableInt(cur)
		s.TargetNodes = nullableInt(tgt)
		if tt.Valid {
			s.Cost = &billing.CostBreakdown{
				DriverCompute: dc.Float64,
				DriverDBU:     dd.Float64,
				WorkerCompute: wc.Float64,
				WorkerDBU:     wd.Float64,
				TotalDriver:   td.Float64,
				TotalWorker:   tw.Float64,
				Total:         tt.Float64,
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// JobRunFactsForWindow reads back the persisted cost facts of one window,
// ordered by org then run id.
func (d *DB) JobRunFactsForWindow(ctx context.Context, window billing.Window) ([]*billing.JobRunCostFact, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT org_id, run_id, job_id, id_in_job, cluster_id, cluster_type,
		        terminal_state, trigger_type, task_type, start_ms, end_ms,
		        running_days, states_touched, avg_concurrent_runs, max_concurrent_runs,
		        potential_core_hours, driver_compute_cost, driver_dbu_cost,
		        worker_compute_cost, worker_dbu_cost, total_driver_cost,
		        total_worker_cost, total_cost,
		        task_runtime_hours, task_core_hours, cluster_utilization
		 FROM job_run_costs WHERE window_from = ? AND window_until = ?
		 ORDER BY org_id, run_id`,
		window.From, window.Until,
	)
	if err != nil {
		return nil, fmt.Errorf("querying job run facts: %w", err)
	}
	defer rows.Close()

	var out []*billing.JobRunCostFact
	for rows.Next() {
		f := &billing.JobRunCostFact{}
		var ct string
		var trh, tch, cu sql.NullFloat64
		if err := rows.Scan(&f.OrgID, &f.RunID, &f.JobID, &f.IDInJob, &f.ClusterID, &ct,
			&f.TerminalState, &f.TriggerType, &f.TaskType, &f.StartMs, &f.EndMs,
			&f.RunningDays, &f.StatesTouched, &f.AvgConcurrentRuns, &f.MaxConcurrentRuns,
			&f.PotentialCoreHours, &f.DriverComputeCost, &f.DriverDBUCost,
			&f.WorkerComputeCost, &f.WorkerDBUCost, &f.TotalDriverCost,
			&f.TotalWorkerCost, &f.TotalCost,
			&trh, &tch, &cu); err != nil {
			return nil, fmt.Errorf("scanning job run fact: %w", err)
		}
		f.ClusterType = billing.JobClusterType(ct)
		f.TaskRuntimeHours = nullableFloat(trh)
		f.TaskCoreHours = nullableFloat(tch)
		f.ClusterUtilization = nullableFloat(cu)
		out = append(out, f)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intPtrValue(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtrValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
