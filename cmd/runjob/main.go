// Command runjob executes a single registered job and exits. It is the
// entrypoint installed in the crontab:
//
//	0 */6 * * * /usr/local/bin/runjob speedtest
//
// It shares the Postgres store with homelab-api, so runs triggered here show
// up in the dashboard's history and the run-state lock keeps the two
// processes from executing the same job concurrently.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pds/homelab/internal/config"
	"github.com/pds/homelab/internal/core"
	"github.com/pds/homelab/internal/db"
	"github.com/pds/homelab/internal/jobs"
	"github.com/pds/homelab/internal/logging"
	"github.com/pds/homelab/internal/model"
	"github.com/pds/homelab/internal/notify"
)

func main() {
	timeout := flag.Duration("timeout", 30*time.Minute, "Abort the job after this long")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: runjob [-timeout 30m] <job-id>")
		os.Exit(2)
	}
	jobID := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg).With().Str("job_id", jobID).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	notifier := notify.NewSlackClient(cfg.SlackWebhookURL, logger)
	services := core.NewServices(pool, buildRunners(cfg), notifier, cfg.AlertDedup, logger)

	run, err := services.Executor.RunJob(ctx, jobID, model.TriggerScheduled)
	if err != nil {
		logger.Error().Err(err).Msg("job execution failed")
		os.Exit(1)
	}
	if run == nil {
		// Disabled job on a scheduled trigger. Not an error: the crontab
		// line stays put while the job is paused from the dashboard.
		logger.Info().Msg("job disabled, skipping")
		return
	}
	if !run.Success {
		logger.Error().
			Int("exit_code", run.ExitCode).
			Str("error", run.ErrorMessage).
			Msg("job failed")
		os.Exit(1)
	}

	logger.Info().
		Dur("duration", run.EndedAt.Sub(run.StartedAt)).
		Msg("job succeeded")
}

func buildRunners(cfg *config.Config) *jobs.Registry {
	runners := jobs.NewRegistry()
	runners.Register(jobs.TypeHTTPCheck, &jobs.HTTPCheck{})
	runners.Register(jobs.TypeSpeedtest, &jobs.Speedtest{})
	runners.Register(jobs.TypeInventoryEmail, jobs.NewInventoryEmail(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunFrom))
	runners.Register(jobs.TypeS3Backup, jobs.NewS3Backup(cfg.DatabaseURL, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket))
	return runners
}

