package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pds/homelab/internal/api"
	"github.com/pds/homelab/internal/config"
	"github.com/pds/homelab/internal/core"
	"github.com/pds/homelab/internal/db"
	"github.com/pds/homelab/internal/jobs"
	"github.com/pds/homelab/internal/logging"
	"github.com/pds/homelab/internal/metrics"
	"github.com/pds/homelab/internal/notify"
	"github.com/pds/homelab/internal/platform"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "create-api-key":
			createAPIKey(os.Args[2:])
			return
		case "hash-password":
			hashPassword(os.Args[2:])
			return
		}
	}

	skipMigrations := flag.Bool("skip-migrations", false, "Do not run database migrations at startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if !*skipMigrations {
		logger.Info().Str("dir", cfg.MigrationsDir).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	runners := buildRunners(cfg)
	notifier := notify.NewSlackClient(cfg.SlackWebhookURL, logger)
	services := core.NewServices(pool, runners, notifier, cfg.AlertDedup, logger)

	if _, err := services.Executor.ResetStale(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to reset stale run state")
	}

	if cfg.JobsFile != "" {
		if err := core.SeedJobs(ctx, services.Registry, runners, cfg.JobsFile, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to seed jobs")
		}
	}

	srv := api.NewServer(logger, pool, cfg, services, runners)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsServer := metrics.NewServer(cfg.MetricsListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

// buildRunners wires the built-in job types. Jobs with unset credentials are
// still registered; they fail at run time with a configuration error so the
// failure shows up in run history instead of silently missing.
func buildRunners(cfg *config.Config) *jobs.Registry {
	runners := jobs.NewRegistry()
	runners.Register(jobs.TypeHTTPCheck, &jobs.HTTPCheck{})
	runners.Register(jobs.TypeSpeedtest, &jobs.Speedtest{})
	runners.Register(jobs.TypeInventoryEmail, jobs.NewInventoryEmail(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunFrom))
	runners.Register(jobs.TypeS3Backup, jobs.NewS3Backup(cfg.DatabaseURL, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket))
	return runners
}

func createAPIKey(args []string) {
	fs := flag.NewFlagSet("create-api-key", flag.ExitOnError)
	label := fs.String("label", "", "Label for the API key (required)")
	fs.Parse(args)

	if *label == "" {
		fmt.Fprintln(os.Stderr, "error: --label is required")
		fmt.Fprintln(os.Stderr, "usage: homelab-api create-api-key --label <label>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	key, rawKey, err := core.NewAPIKeyService(pool).Create(ctx, *label)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key created.\n\n")
	fmt.Printf("  Label:  %s\n", key.Label)
	fmt.Printf("  ID:     %s\n", key.ID)
	fmt.Printf("  Key:    %s\n\n", rawKey)
	fmt.Printf("Save this key now, it will not be shown again.\n")
}

// hashPassword prints the argon2id hash for ADMIN_PASSWORD_HASH. The password
// is read from stdin so it does not land in shell history.
func hashPassword(args []string) {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	fs.Parse(args)

	fmt.Fprint(os.Stderr, "Password: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "error: no password read")
		os.Exit(1)
	}
	password := strings.TrimSpace(scanner.Text())
	if password == "" {
		fmt.Fprintln(os.Stderr, "error: password is empty")
		os.Exit(1)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		fmt.Fprintf(os.Stderr, "error: generate salt: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(platform.HashPassword(password, salt))
}
