// SPDX-License-Identifier: AGPL-3.0-or-later
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// PutJobReport persists a JobReport on every state transition, per spec.md
// §4.H ("Report ... persisted to the DB on every state transition"). The
// job system's own pending_jobs.bin snapshot (internal/jobs) is a separate,
// narrower crash-recovery mechanism for resuming in-flight work; this table
// is the durable history callers query after the fact.
func (s *Store) PutJobReport(ctx context.Context, r models.JobReport) error {
	var completedAt interface{}
	if !r.CompletedAt.IsZero() {
		completedAt = r.CompletedAt
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO job_reports (id, name, action, status, task_count, completed_task_count,
			started_at, completed_at, critical_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			task_count = excluded.task_count,
			completed_task_count = excluded.completed_task_count,
			completed_at = excluded.completed_at,
			critical_error = excluded.critical_error,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Action, string(r.Status), r.TaskCount, r.CompletedTaskCount,
		r.StartedAt, completedAt, r.CriticalError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage: put job report: %w", err)
	}
	return nil
}

// RecentJobReports returns the most recently updated job reports, newest
// first, capped at limit.
func (s *Store) RecentJobReports(ctx context.Context, limit int) ([]models.JobReport, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, action, status, task_count, completed_task_count, started_at, completed_at, critical_error
		FROM job_reports ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent job reports: %w", err)
	}
	defer rows.Close()

	var out []models.JobReport
	for rows.Next() {
		var r models.JobReport
		var status string
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Name, &r.Action, &status, &r.TaskCount, &r.CompletedTaskCount,
			&r.StartedAt, &completedAt, &r.CriticalError); err != nil {
			return nil, err
		}
		r.Status = models.JobStatus(status)
		if completedAt.Valid {
			r.CompletedAt = completedAt.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
