package core

import (
	"context"
	"fmt"
	"time"

	"github.com/pds/homelab/internal/model"
)

// RunHistoryService is the append-only record of job executions. Run rows
// are written once, at completion, and never updated; the only delete path
// is the explicit clear-failures administrative action.
type RunHistoryService struct {
	db DB
}

func NewRunHistoryService(db DB) *RunHistoryService {
	return &RunHistoryService{db: db}
}

// truncateOutput bounds captured text so history storage stays finite.
func truncateOutput(s string) string {
	if len(s) <= model.MaxCapturedOutput {
		return s
	}
	return s[:model.MaxCapturedOutput]
}

// Record appends a completed run and stamps the job's last_run_at.
func (s *RunHistoryService) Record(ctx context.Context, run *model.JobRun) error {
	if run.EndedAt.Before(run.StartedAt) {
		return fmt.Errorf("record run %s: ended_at before started_at", run.RunID)
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO job_runs (run_id, job_id, trigger_type, attempt, started_at, ended_at, success, exit_code, output, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		run.RunID, run.JobID, run.TriggerType, run.Attempt, run.StartedAt, run.EndedAt,
		run.Success, run.ExitCode, truncateOutput(run.Output), truncateOutput(run.ErrorMessage),
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("record run for job %s: %w", run.JobID, err)
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE jobs SET last_run_at = $1 WHERE id = $2`, run.EndedAt, run.JobID); err != nil {
		return fmt.Errorf("stamp last run for job %s: %w", run.JobID, err)
	}
	return nil
}

const runColumns = `id, run_id, job_id, trigger_type, attempt, started_at, ended_at, success, exit_code, output, error_message`

func scanRun(row interface{ Scan(dest ...any) error }) (model.JobRun, error) {
	var r model.JobRun
	err := row.Scan(&r.ID, &r.RunID, &r.JobID, &r.TriggerType, &r.Attempt,
		&r.StartedAt, &r.EndedAt, &r.Success, &r.ExitCode, &r.Output, &r.ErrorMessage)
	return r, err
}

// ListForJob returns runs for a job, most recent first. A zero since returns
// runs from all time.
func (s *RunHistoryService) ListForJob(ctx context.Context, jobID string, limit int, since time.Time) ([]model.JobRun, error) {
	query := `SELECT ` + runColumns + ` FROM job_runs WHERE job_id = $1`
	args := []any{jobID}
	argIdx := 2

	if !since.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, since)
		argIdx++
	}

	query += ` ORDER BY started_at DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var runs []model.JobRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// RecentFailures returns failed runs across all jobs that ended within the
// window, most recent first, with the job name joined in for display.
func (s *RunHistoryService) RecentFailures(ctx context.Context, window time.Duration) ([]model.JobRun, error) {
	cutoff := time.Now().Add(-window)
	rows, err := s.db.Query(ctx,
		`SELECT r.id, r.run_id, r.job_id, j.name, r.trigger_type, r.attempt, r.started_at, r.ended_at, r.success, r.exit_code, r.output, r.error_message
		 FROM job_runs r
		 JOIN jobs j ON r.job_id = j.id
		 WHERE r.success = false AND r.ended_at >= $1
		 ORDER BY r.ended_at DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list recent failures: %w", err)
	}
	defer rows.Close()

	var runs []model.JobRun
	for rows.Next() {
		var r model.JobRun
		if err := rows.Scan(&r.ID, &r.RunID, &r.JobID, &r.JobName, &r.TriggerType, &r.Attempt,
			&r.StartedAt, &r.EndedAt, &r.Success, &r.ExitCode, &r.Output, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return runs, nil
}

// ClearRecentFailures deletes failed runs that ended within the window and
// returns the number deleted. Successful runs and older failures are kept.
func (s *RunHistoryService) ClearRecentFailures(ctx context.Context, window time.Duration) (int64, error) {
	cutoff := time.Now().Add(-window)
	tag, err := s.db.Exec(ctx,
		`DELETE FROM job_runs WHERE success = false AND ended_at >= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clear recent failures: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats computes the per-job aggregate view on read. Correctness over large
// histories relies on the (job_id, started_at) index, not on counters.
func (s *RunHistoryService) Stats(ctx context.Context, jobID string) (*model.JobStats, error) {
	var st model.JobStats
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE success),
		        COUNT(*) FILTER (WHERE NOT success),
		        MAX(ended_at),
		        MAX(ended_at) FILTER (WHERE success)
		 FROM job_runs WHERE job_id = $1`, jobID,
	).Scan(&st.TotalRuns, &st.SuccessCount, &st.FailureCount, &st.LastRunAt, &st.LastSuccessAt)
	if err != nil {
		return nil, fmt.Errorf("stats for job %s: %w", jobID, err)
	}
	return &st, nil
}

// GlobalStats aggregates run outcomes across all jobs within the window.
func (s *RunHistoryService) GlobalStats(ctx context.Context, window time.Duration) (*model.GlobalStats, error) {
	var g model.GlobalStats
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE enabled) FROM jobs`,
	).Scan(&g.TotalJobs, &g.EnabledJobs)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	cutoff := time.Now().Add(-window)
	err = s.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE success),
		        COUNT(*) FILTER (WHERE NOT success)
		 FROM job_runs WHERE started_at >= $1`, cutoff,
	).Scan(&g.Runs, &g.Successes, &g.Failures)
	if err != nil {
		return nil, fmt.Errorf("aggregate runs: %w", err)
	}

	if g.Runs > 0 {
		g.SuccessRate = float64(g.Successes) / float64(g.Runs) * 100
	}
	return &g, nil
}
