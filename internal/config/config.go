package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL       string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	ServiceName       string
	MigrationsDir     string
	// JobsFile is the declarative job seed file registered at startup.
	JobsFile string

	// SlackWebhookURL is the incoming-webhook target for failure alerts.
	// Alerting is disabled when empty.
	SlackWebhookURL string
	AlertDedup      time.Duration

	// AdminPasswordHash is the argon2id hash checked when minting
	// terminal tokens.
	AdminPasswordHash string

	// TerminalShell is the command started in browser terminal sessions.
	TerminalShell string

	// WireGuardDevice is the interface reported by the VPN status endpoint.
	WireGuardDevice string

	// Backup job credentials.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string

	// Inventory email job credentials.
	MailgunDomain string
	MailgunAPIKey string
	MailgunFrom   string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8085"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9095"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", "homelab-panel"),
		MigrationsDir:     getEnv("MIGRATIONS_DIR", "migrations"),
		JobsFile:          getEnv("JOBS_FILE", ""),
		SlackWebhookURL:   getEnv("SLACK_WEBHOOK_URL", ""),
		AlertDedup:        time.Duration(getEnvInt("ALERT_DEDUP_HOURS", 24)) * time.Hour,
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		TerminalShell:     getEnv("TERMINAL_SHELL", "/bin/bash"),
		WireGuardDevice:   getEnv("WIREGUARD_DEVICE", "wg0"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		MailgunDomain:     getEnv("MAILGUN_DOMAIN", ""),
		MailgunAPIKey:     getEnv("MAILGUN_API_KEY", ""),
		MailgunFrom:       getEnv("MAILGUN_FROM", ""),
	}

	return cfg, nil
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.AlertDedup <= 0 {
		return fmt.Errorf("ALERT_DEDUP_HOURS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
