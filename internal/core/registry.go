package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pds/homelab/internal/model"
)

// JobRegistryService owns the durable set of job definitions. The dashboard
// process and the cron-invoked runjob process share the same rows, so every
// mutation goes straight to the database.
type JobRegistryService struct {
	db DB
}

func NewJobRegistryService(db DB) *JobRegistryService {
	return &JobRegistryService{db: db}
}

const jobColumns = `id, name, description, job_type, schedule, enabled, config, max_retries, retry_delay_seconds, alert_on_failure, run_state, running_since, last_run_at, created_at, updated_at`

func scanJob(row interface{ Scan(dest ...any) error }) (model.Job, error) {
	var j model.Job
	err := row.Scan(&j.ID, &j.Name, &j.Description, &j.JobType, &j.Schedule,
		&j.Enabled, &j.Config, &j.MaxRetries, &j.RetryDelaySeconds,
		&j.AlertOnFailure, &j.RunState, &j.RunningSince, &j.LastRunAt,
		&j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// Register inserts or updates a job definition by ID. The run state of an
// existing row is left alone so re-registering at startup cannot break a run
// in progress.
func (s *JobRegistryService) Register(ctx context.Context, job *model.Job) error {
	now := time.Now()
	_, err := s.db.Exec(ctx,
		`INSERT INTO jobs (id, name, description, job_type, schedule, enabled, config, max_retries, retry_delay_seconds, alert_on_failure, run_state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   description = EXCLUDED.description,
		   job_type = EXCLUDED.job_type,
		   schedule = EXCLUDED.schedule,
		   enabled = EXCLUDED.enabled,
		   config = EXCLUDED.config,
		   max_retries = EXCLUDED.max_retries,
		   retry_delay_seconds = EXCLUDED.retry_delay_seconds,
		   alert_on_failure = EXCLUDED.alert_on_failure,
		   updated_at = now()`,
		job.ID, job.Name, job.Description, job.JobType, job.Schedule,
		job.Enabled, job.Config, job.MaxRetries, job.RetryDelaySeconds,
		job.AlertOnFailure, model.RunStateIdle, now,
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.ID, err)
	}
	return nil
}

// RegisterNew inserts a job definition and fails with ErrDuplicateJob when
// the ID is taken. Used by the API create path where silently upserting
// would mask a caller mistake.
func (s *JobRegistryService) RegisterNew(ctx context.Context, job *model.Job) error {
	now := time.Now()
	tag, err := s.db.Exec(ctx,
		`INSERT INTO jobs (id, name, description, job_type, schedule, enabled, config, max_retries, retry_delay_seconds, alert_on_failure, run_state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		 ON CONFLICT (id) DO NOTHING`,
		job.ID, job.Name, job.Description, job.JobType, job.Schedule,
		job.Enabled, job.Config, job.MaxRetries, job.RetryDelaySeconds,
		job.AlertOnFailure, model.RunStateIdle, now,
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("register job %s: %w", job.ID, ErrDuplicateJob)
	}
	return nil
}

func (s *JobRegistryService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get job %s: %w", id, ErrJobNotFound)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &j, nil
}

// List returns all job definitions in ID order.
func (s *JobRegistryService) List(ctx context.Context) ([]model.Job, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobsList []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobsList = append(jobsList, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobsList, nil
}

func (s *JobRegistryService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET enabled = $1, updated_at = now() WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("set job %s enabled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set job %s enabled: %w", id, ErrJobNotFound)
	}
	return nil
}

// ToggleEnabled flips the enabled flag and returns the new value.
func (s *JobRegistryService) ToggleEnabled(ctx context.Context, id string) (bool, error) {
	var enabled bool
	err := s.db.QueryRow(ctx,
		`UPDATE jobs SET enabled = NOT enabled, updated_at = now() WHERE id = $1 RETURNING enabled`, id,
	).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("toggle job %s: %w", id, ErrJobNotFound)
		}
		return false, fmt.Errorf("toggle job %s: %w", id, err)
	}
	return enabled, nil
}

func (s *JobRegistryService) UpdateConfig(ctx context.Context, id string, config json.RawMessage) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET config = $1, updated_at = now() WHERE id = $2`, config, id)
	if err != nil {
		return fmt.Errorf("update job %s config: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s config: %w", id, ErrJobNotFound)
	}
	return nil
}

// UpdateRetryPolicy sets the attempt budget and the delay between attempts.
func (s *JobRegistryService) UpdateRetryPolicy(ctx context.Context, id string, maxRetries, retryDelaySeconds int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET max_retries = $1, retry_delay_seconds = $2, updated_at = now() WHERE id = $3`,
		maxRetries, retryDelaySeconds, id)
	if err != nil {
		return fmt.Errorf("update job %s retry policy: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s retry policy: %w", id, ErrJobNotFound)
	}
	return nil
}

// SetAlertOnFailure controls whether a final failure of this job alerts.
func (s *JobRegistryService) SetAlertOnFailure(ctx context.Context, id string, on bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET alert_on_failure = $1, updated_at = now() WHERE id = $2`, on, id)
	if err != nil {
		return fmt.Errorf("set job %s alert_on_failure: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set job %s alert_on_failure: %w", id, ErrJobNotFound)
	}
	return nil
}

func (s *JobRegistryService) UpdateSchedule(ctx context.Context, id, schedule string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET schedule = $1, updated_at = now() WHERE id = $2`, schedule, id)
	if err != nil {
		return fmt.Errorf("update job %s schedule: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s schedule: %w", id, ErrJobNotFound)
	}
	return nil
}

// Deregister removes a job and its history. Jobs are never deleted
// implicitly; this is the one explicit removal path.
func (s *JobRegistryService) Deregister(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM job_runs WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("delete runs for job %s: %w", id, err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM alert_states WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("delete alert state for job %s: %w", id, err)
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete job %s: %w", id, ErrJobNotFound)
	}
	return nil
}
