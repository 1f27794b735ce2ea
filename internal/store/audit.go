package store

import (
	"context"
	"fmt"
	"time"
)

// PipelineRun is one audit record of a batch window computation.
type PipelineRun struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	WindowFrom  int64     `json:"windowFrom"`
	WindowUntil int64     `json:"windowUntil"`
	Status      string    `json:"status"`
	Events      int       `json:"events"`
	Slices      int       `json:"slices"`
	Runs        int       `json:"runs"`
	Detail      string    `json:"detail,omitempty"`
}

// RecordPipelineRun inserts one audit record. Re-runs of the same window get
// new ids so the history keeps every attempt.
func (d *DB) RecordPipelineRun(ctx context.Context, run PipelineRun) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (
			id, started_at, finished_at, window_from, window_until,
			status, events, slices, runs, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.WindowFrom, run.WindowUntil,
		run.Status, run.Events, run.Slices, run.Runs, run.Detail,
	)
	if err != nil {
		return fmt.Errorf("recording pipeline run: %w", err)
	}
	return nil
}

// RecentPipelineRuns returns the most recent audit records, newest first.
func (d *DB) RecentPipelineRuns(ctx context.Context, limit int) ([]PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, window_from, window_until,
		        status, events, slices, runs, detail
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pipeline runs: %w", err)
	}
	defer rows.Close()

	var out []PipelineRun
	for rows.Next() {
		var r PipelineRun
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.WindowFrom, &r.WindowUntil,
			&r.Status, &r.Events, &r.Slices, &r.Runs, &r.Detail); err != nil {
			return nil, fmt.Errorf("scanning pipeline run: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, started); err == nil {
			r.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339, finished); err == nil {
			r.FinishedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
