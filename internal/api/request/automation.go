package request

import "encoding/json"

// CreateJob registers a new job definition. The ID doubles as the crontab
// argument to the runjob binary, so it is restricted to slug characters.
type CreateJob struct {
	ID          string          `json:"id" validate:"required,slug"`
	Name        string          `json:"name" validate:"required,max=128"`
	Description string          `json:"description" validate:"max=1024"`
	JobType     string          `json:"job_type" validate:"required,slug"`
	Schedule    string          `json:"schedule" validate:"required"`
	Enabled     *bool           `json:"enabled"`
	Config      json.RawMessage `json:"config"`
	// Retry policy; server defaults apply when absent.
	MaxRetries        *int  `json:"max_retries" validate:"omitempty,min=1,max=10"`
	RetryDelaySeconds *int  `json:"retry_delay_seconds" validate:"omitempty,min=0,max=3600"`
	AlertOnFailure    *bool `json:"alert_on_failure"`
}

// UpdateJob mutates an existing definition. All fields are optional; absent
// fields are left untouched.
type UpdateJob struct {
	Enabled           *bool           `json:"enabled"`
	Schedule          *string         `json:"schedule"`
	Config            json.RawMessage `json:"config"`
	MaxRetries        *int            `json:"max_retries" validate:"omitempty,min=1,max=10"`
	RetryDelaySeconds *int            `json:"retry_delay_seconds" validate:"omitempty,min=0,max=3600"`
	AlertOnFailure    *bool           `json:"alert_on_failure"`
}

// TerminalToken carries the admin password exchanged for a websocket token.
type TerminalToken struct {
	Password string `json:"password" validate:"required"`
}
