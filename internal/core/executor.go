package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/pds/homelab/internal/jobs"
	"github.com/pds/homelab/internal/metrics"
	"github.com/pds/homelab/internal/model"
	"github.com/pds/homelab/internal/platform"
)

// staleRunningAfter is how long a job may sit in the running state before
// another trigger is allowed to reclaim it. It only matters after a process
// crashed between reserving the state and releasing it; normal runs release
// in a defer.
const staleRunningAfter = time.Hour

// ExecutorService is the only component that invokes job logic. It owns the
// at-most-one-concurrent-run-per-job guarantee, which is enforced with a
// conditional update on the job row so it holds across the dashboard and
// cron-invoked processes.
type ExecutorService struct {
	db       DB
	registry *JobRegistryService
	history  *RunHistoryService
	alerts   *AlertService
	runners  *jobs.Registry
	logger   zerolog.Logger
}

func NewExecutorService(db DB, registry *JobRegistryService, history *RunHistoryService, alerts *AlertService, runners *jobs.Registry, logger zerolog.Logger) *ExecutorService {
	return &ExecutorService{
		db:       db,
		registry: registry,
		history:  history,
		alerts:   alerts,
		runners:  runners,
		logger:   logger.With().Str("component", "executor").Logger(),
	}
}

// RunJob executes a job synchronously and returns its final run record.
//
// A scheduled trigger on a disabled job is a silent skip: the returned run
// is nil and no history is written. Manual triggers always execute. A nil
// error with a non-nil run means the trigger completed and was recorded,
// whether or not the job logic itself succeeded; job-logic failures are
// captured in the record, never raised.
//
// Failed attempts are retried up to the job's max_retries budget, waiting
// retry_delay_seconds between attempts. Every attempt gets its own history
// row; the reservation is held across the whole retry loop so another
// trigger cannot interleave between attempts.
func (s *ExecutorService) RunJob(ctx context.Context, id, triggerType string) (*model.JobRun, error) {
	job, err := s.registry.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !job.Enabled && triggerType == model.TriggerScheduled {
		s.logger.Debug().Str("job_id", id).Msg("disabled job skipped by scheduled trigger")
		return nil, nil
	}

	if err := s.reserve(ctx, id); err != nil {
		return nil, err
	}
	defer s.release(id)

	maxAttempts := job.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryDelay := time.Duration(job.RetryDelaySeconds) * time.Second

	var run *model.JobRun
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		run, err = s.attempt(ctx, job, triggerType, attempt)
		if err != nil {
			// Storage failure is the one class that must surface hard.
			return nil, err
		}
		if run.Success {
			s.logger.Info().Str("job_id", id).Dur("duration", run.Duration()).Msg("job completed")
			return run, nil
		}

		s.logger.Warn().Str("job_id", id).Int("attempt", attempt).Int("exit_code", run.ExitCode).
			Str("error", run.ErrorMessage).Msg("job attempt failed")
		if attempt == maxAttempts {
			break
		}
		canceled := false
		select {
		case <-ctx.Done():
			// A canceled trigger stops retrying; the recorded attempts stand.
			s.logger.Warn().Str("job_id", id).Msg("retries abandoned, trigger canceled")
			canceled = true
		case <-time.After(retryDelay):
		}
		if canceled {
			break
		}
	}

	if job.AlertOnFailure {
		s.alerts.MaybeNotify(ctx, job, run)
	}
	return run, nil
}

// attempt runs the job logic once and records the outcome.
func (s *ExecutorService) attempt(ctx context.Context, job *model.Job, triggerType string, attempt int) (*model.JobRun, error) {
	trigger := triggerType
	if attempt > 1 {
		trigger = model.TriggerRetry
	}

	s.logger.Info().Str("job_id", job.ID).Str("trigger", trigger).
		Int("attempt", attempt).Msg("executing job")

	start := time.Now()
	result, runErr := s.invoke(ctx, job)
	end := time.Now()

	run := &model.JobRun{
		RunID:       platform.NewID(),
		JobID:       job.ID,
		TriggerType: trigger,
		Attempt:     attempt,
		StartedAt:   start,
		EndedAt:     end,
		ExitCode:    result.ExitCode,
		Output:      result.Output,
	}
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
		if run.ExitCode == 0 {
			run.ExitCode = 1
		}
	}
	run.Success = runErr == nil && run.ExitCode == 0

	if err := s.history.Record(ctx, run); err != nil {
		return nil, err
	}

	outcome := "success"
	if !run.Success {
		outcome = "failure"
	}
	metrics.JobRunsTotal.WithLabelValues(job.ID, outcome, trigger).Inc()
	metrics.JobRunDuration.WithLabelValues(job.ID).Observe(end.Sub(start).Seconds())

	return run, nil
}

// invoke runs the job logic with panic recovery. The executor never crashes
// because of a misbehaving runner; a panic becomes a failed result.
func (s *ExecutorService) invoke(ctx context.Context, job *model.Job) (result jobs.Result, err error) {
	runner, ok := s.runners.Get(job.JobType)
	if !ok {
		return jobs.Result{ExitCode: 1}, fmt.Errorf("no runner registered for job type %q", job.JobType)
	}

	defer func() {
		if r := recover(); r != nil {
			result = jobs.Result{ExitCode: 1, Output: string(debug.Stack())}
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	jobLogger := s.logger.With().Str("job_id", job.ID).Logger()
	return runner.Run(ctx, job.Config, jobLogger)
}

// reserve atomically transitions the job row from idle to running. Both
// trigger processes race through this same statement, so exactly one wins;
// the loser gets ErrJobAlreadyRunning without touching history. A row stuck
// in running longer than staleRunningAfter (crashed process) is reclaimable.
func (s *ExecutorService) reserve(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET run_state = $1, running_since = now()
		 WHERE id = $2 AND (run_state = $3 OR running_since < now() - make_interval(secs => $4))`,
		model.RunStateRunning, id, model.RunStateIdle, staleRunningAfter.Seconds())
	if err != nil {
		return fmt.Errorf("reserve job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run job %s: %w", id, ErrJobAlreadyRunning)
	}
	return nil
}

// release returns the job to idle. It runs in a defer with its own context
// so a canceled request cannot wedge the job in the running state.
func (s *ExecutorService) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.db.Exec(ctx,
		`UPDATE jobs SET run_state = $1, running_since = NULL WHERE id = $2`,
		model.RunStateIdle, id)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", id).Msg("failed to release job run state")
	}
}

// ResetStale returns crashed runs to idle. Called once at process start.
// Only rows running longer than staleRunningAfter are touched: a fresher
// running row may belong to the other trigger process, which is alive and
// will release it itself.
func (s *ExecutorService) ResetStale(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE jobs SET run_state = $1, running_since = NULL
		 WHERE run_state = $2 AND running_since < now() - make_interval(secs => $3)`,
		model.RunStateIdle, model.RunStateRunning, staleRunningAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reset stale run state: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Warn().Int64("jobs", n).Msg("reset stale running jobs at startup")
		return n, nil
	}
	return 0, nil
}
