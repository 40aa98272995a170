package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pds/homelab/internal/metrics"
	"github.com/pds/homelab/internal/model"
	"github.com/pds/homelab/internal/notify"
)

// Notifier is the external alert channel. notify.SlackClient satisfies it.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// AlertService decides whether a job failure becomes a notification. The
// dedup state lives in the database because failures can be produced by two
// different processes (dashboard and cron-invoked runjob).
type AlertService struct {
	db       DB
	notifier Notifier
	dedup    time.Duration
	logger   zerolog.Logger
}

func NewAlertService(db DB, notifier Notifier, dedup time.Duration, logger zerolog.Logger) *AlertService {
	return &AlertService{
		db:       db,
		notifier: notifier,
		dedup:    dedup,
		logger:   logger.With().Str("component", "alerts").Logger(),
	}
}

// MaybeNotify sends a failure alert unless one already went out for this job
// inside the dedup window. Never returns an error: alerting is advisory and
// must not change the outcome of a run.
func (s *AlertService) MaybeNotify(ctx context.Context, job *model.Job, run *model.JobRun) {
	if run.Success {
		return
	}

	claimed, err := s.claim(ctx, job.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("alert state update failed")
		return
	}
	if !claimed {
		metrics.AlertsTotal.WithLabelValues("suppressed").Inc()
		s.logger.Debug().Str("job_id", job.ID).Msg("failure alert suppressed by dedup window")
		return
	}

	n := notify.Notification{
		Title:    fmt.Sprintf("Job Failed: %s", job.Name),
		Message:  run.ErrorMessage,
		Severity: "error",
		Details:  clip(run.Output, 500),
	}
	if n.Message == "" {
		n.Message = fmt.Sprintf("exit code %d", run.ExitCode)
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		metrics.AlertsTotal.WithLabelValues("failed").Inc()
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failure alert delivery failed")
		return
	}
	metrics.AlertsTotal.WithLabelValues("sent").Inc()
	s.logger.Info().Str("job_id", job.ID).Msg("failure alert sent")
}

// claim performs the dedup-window check and the timestamp update in one
// conditional statement so two concurrent failures cannot both win.
func (s *AlertService) claim(ctx context.Context, jobID string) (bool, error) {
	cutoff := time.Now().Add(-s.dedup)
	tag, err := s.db.Exec(ctx,
		`INSERT INTO alert_states (job_id, last_alert_sent_at)
		 VALUES ($1, now())
		 ON CONFLICT (job_id) DO UPDATE SET last_alert_sent_at = now()
		 WHERE alert_states.last_alert_sent_at IS NULL
		    OR alert_states.last_alert_sent_at < $2`,
		jobID, cutoff)
	if err != nil {
		return false, fmt.Errorf("claim alert for job %s: %w", jobID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Reset clears alert dedup state stamped within the window, so the next
// failure after an explicit clear alerts again immediately.
func (s *AlertService) Reset(ctx context.Context, window time.Duration) error {
	cutoff := time.Now().Add(-window)
	if _, err := s.db.Exec(ctx,
		`DELETE FROM alert_states WHERE last_alert_sent_at >= $1`, cutoff); err != nil {
		return fmt.Errorf("reset alert states: %w", err)
	}
	return nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
