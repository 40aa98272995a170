package model

import "time"

// MaxCapturedOutput bounds the output and error_message columns of a run
// record so history storage cannot grow without limit.
const MaxCapturedOutput = 16 * 1024

type JobRun struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	JobID        string    `json:"job_id"`
	JobName      string    `json:"job_name,omitempty"`
	TriggerType  string    `json:"trigger_type"`
	Attempt      int       `json:"attempt"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Success      bool      `json:"success"`
	ExitCode     int       `json:"exit_code"`
	Output       string    `json:"output,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Duration returns the wall-clock run time.
func (r *JobRun) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// JobStats is the per-job aggregate view, computed on read.
type JobStats struct {
	TotalRuns     int        `json:"total_runs"`
	SuccessCount  int        `json:"success_count"`
	FailureCount  int        `json:"failure_count"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

// GlobalStats aggregates run outcomes across all jobs within a window.
type GlobalStats struct {
	TotalJobs   int     `json:"total_jobs"`
	EnabledJobs int     `json:"enabled_jobs"`
	Runs        int     `json:"runs"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	SuccessRate float64 `json:"success_rate"`
}
