// Package store persists the metering tables in SQLite: the cleaned input
// tables supplied by upstream collaborators (lifecycle events, cluster specs,
// price catalog, job runs, task telemetry) and the fact tables this pipeline
// produces (state slices, job run costs), plus a pipeline-run audit table.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds database configuration.
type Config struct {
	Path          string
	RetentionDays int
}

// DB wraps a sql.DB with retention settings.
type DB struct {
	db            *sql.DB
	retentionDays int
}

// RawDB returns the underlying *sql.DB for components that need direct access.
func (d *DB) RawDB() *sql.DB {
	return d.db
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Open creates the directory, opens the SQLite database, sets WAL mode and
// pragmas, and ensures all tables exist.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// In WAL mode SQLite supports concurrent readers with a single writer.
	// The API server reads while the batch writes.
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	retDays := cfg.RetentionDays
	if retDays <= 0 {
		retDays = 90
	}

	return &DB{db: sqlDB, retentionDays: retDays}, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cluster_events (
			org_id TEXT NOT NULL,
			cluster_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			current_nodes INTEGER,
			target_nodes INTEGER,
			size_hint INTEGER,
			autoscale_min INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cluster_events_key_ts ON cluster_events(org_id, cluster_id, ts)`,

		`CREATE TABLE IF NOT EXISTS cluster_specs (
			org_id TEXT NOT NULL,
			cluster_id TEXT NOT NULL,
			effective_ms INTEGER NOT NULL,
			cluster_name TEXT NOT NULL,
			driver_node_type TEXT NOT NULL,
			worker_node_type TEXT NOT NULL,
			source TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cluster_specs_key ON cluster_specs(org_id, cluster_id, effective_ms)`,

		`CREATE TABLE IF NOT EXISTS price_catalog (
			node_type_key TEXT NOT NULL,
			active_from INTEGER NOT NULL,
			active_until INTEGER,
			vcpus INTEGER NOT NULL,
			hourly_compute_rate REAL NOT NULL,
			hourly_dbu_rate REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_catalog_key ON price_catalog(node_type_key, active_from)`,

		`CREATE TABLE IF NOT EXISTS job_runs (
			org_id TEXT NOT NULL,
			run_id INTEGER NOT NULL,
			job_id INTEGER NOT NULL,
			id_in_job INTEGER NOT NULL,
			cluster_id TEXT NOT NULL,
			cluster_type TEXT NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			terminal_state TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			task_type TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_window ON job_runs(org_id, start_ms, end_ms)`,

		`CREATE TABLE IF NOT EXISTS task_runtime (
			org_id TEXT NOT NULL,
			job_id INTEGER NOT NULL,
			id_in_job INTEGER NOT NULL,
			started_ms INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_runtime_window ON task_runtime(org_id, started_ms)`,

		`CREATE TABLE IF NOT EXISTS state_slices (
			window_from INTEGER NOT NULL,
			window_until INTEGER NOT NULL,
			org_id TEXT NOT NULL,
			cluster_id TEXT NOT NULL,
			state_type TEXT NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			is_running INTEGER NOT NULL,
			cloud_billable INTEGER NOT NULL,
			databricks_billable INTEGER NOT NULL,
			imputed INTEGER NOT NULL,
			current_nodes INTEGER,
			target_nodes INTEGER,
			cluster_name TEXT NOT NULL,
			driver_node_type TEXT NOT NULL,
			worker_node_type TEXT NOT NULL,
			is_automated INTEGER NOT NULL,
			uptime_s REAL NOT NULL,
			uptime_since_reset_s REAL NOT NULL,
			potential_worker_core_s REAL NOT NULL,
			driver_compute_cost REAL,
			driver_dbu_cost REAL,
			worker_compute_cost REAL,
			worker_dbu_cost REAL,
			total_driver_cost REAL,
			total_worker_cost REAL,
			total_cost REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_state_slices_key ON state_slices(org_id, cluster_id, start_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_state_slices_window ON state_slices(window_from, window_until)`,

		`CREATE TABLE IF NOT EXISTS job_run_costs (
			window_from INTEGER NOT NULL,
			window_until INTEGER NOT NULL,
			org_id TEXT NOT NULL,
			run_id INTEGER NOT NULL,
			job_id INTEGER NOT NULL,
			id_in_job INTEGER NOT NULL,
			cluster_id TEXT NOT NULL,
			cluster_type TEXT NOT NULL,
			terminal_state TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			task_type TEXT NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			running_days INTEGER NOT NULL,
			states_touched INTEGER NOT NULL,
			avg_concurrent_runs REAL NOT NULL,
			max_concurrent_runs INTEGER NOT NULL,
			potential_core_hours REAL NOT NULL,
			driver_compute_cost REAL NOT NULL,
			driver_dbu_cost REAL NOT NULL,
			worker_compute_cost REAL NOT NULL,
			worker_dbu_cost REAL NOT NULL,
			total_driver_cost REAL NOT NULL,
			total_worker_cost REAL NOT NULL,
			total_cost REAL NOT NULL,
			task_runtime_hours REAL,
			task_core_hours REAL,
			cluster_utilization REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_run_costs_run ON job_run_costs(org_id, run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_job_run_costs_window ON job_run_costs(window_from, window_until)`,

		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			window_from INTEGER NOT NULL,
			window_until INTEGER NOT NULL,
			status TEXT NOT NULL,
			events INTEGER NOT NULL,
			slices INTEGER NOT NULL,
			runs INTEGER NOT NULL,
			detail TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Cleanup deletes fact rows and audit entries older than the retention
// period. Input tables are owned by upstream loaders and left alone.
func (d *DB) Cleanup() error {
	cutoffMs := time.Now().AddDate(0, 0, -d.retentionDays).UnixMilli()
	cutoffTs := time.Now().AddDate(0, 0, -d.retentionDays).Format(time.RFC3339)

	stmts := []struct {
		sql    string
		cutoff any
	}{
		{"DELETE FROM state_slices WHERE window_until < ?", cutoffMs},
		{"DELETE FROM job_run_costs WHERE window_until < ?", cutoffMs},
		{"DELETE FROM pipeline_runs WHERE started_at < ?", cutoffTs},
	}

	for _, s := range stmts {
		if _, err := d.db.Exec(s.sql, s.cutoff); err != nil {
			return fmt.Errorf("cleanup %q: %w", s.sql[:30], err)
		}
	}
	return nil
}
