package model

import (
	"encoding/json"
	"time"
)

// Job run-state constants. A job row is the durable lock for the
// at-most-one-concurrent-run guarantee, so the state lives on the row
// rather than in process memory.
const (
	RunStateIdle    = "idle"
	RunStateRunning = "running"
)

// Trigger type constants. Retry attempts after the first carry the retry
// trigger so history distinguishes them from the originating trigger.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerRetry     = "retry"
)

// Retry policy defaults applied when a definition does not set its own.
const (
	DefaultMaxRetries        = 3
	DefaultRetryDelaySeconds = 60
)

type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	JobType     string          `json:"job_type"`
	Schedule    string          `json:"schedule"`
	Enabled     bool            `json:"enabled"`
	Config      json.RawMessage `json:"config"`
	// MaxRetries is the total attempt budget per trigger, not additional
	// tries: 3 means at most three executions.
	MaxRetries        int        `json:"max_retries"`
	RetryDelaySeconds int        `json:"retry_delay_seconds"`
	AlertOnFailure    bool       `json:"alert_on_failure"`
	RunState          string     `json:"run_state"`
	RunningSince      *time.Time `json:"running_since,omitempty"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
