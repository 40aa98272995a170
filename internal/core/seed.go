package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/pds/homelab/internal/jobs"
	"github.com/pds/homelab/internal/model"
	"github.com/pds/homelab/internal/schedule"
)

type seedFile struct {
	Jobs []seedJob `yaml:"jobs"`
}

type seedJob struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Type        string         `yaml:"type"`
	Schedule    string         `yaml:"schedule"`
	Enabled     *bool          `yaml:"enabled"`
	Config      map[string]any `yaml:"config"`

	MaxRetries        *int  `yaml:"max_retries"`
	RetryDelaySeconds *int  `yaml:"retry_delay_seconds"`
	AlertOnFailure    *bool `yaml:"alert_on_failure"`
}

// SeedJobs upserts job definitions from a YAML file at startup. Definitions
// are declarative: rerunning the seed updates name, schedule and config of
// existing rows but leaves their run state and history untouched. Jobs
// present in the database but absent from the file are kept; removal is an
// explicit API action only.
func SeedJobs(ctx context.Context, registry *JobRegistryService, runners *jobs.Registry, path string, logger zerolog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read jobs file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse jobs file: %w", err)
	}

	for _, sj := range f.Jobs {
		if sj.ID == "" || sj.Name == "" {
			return fmt.Errorf("seed job missing id or name: %+v", sj)
		}
		if _, ok := runners.Get(sj.Type); !ok {
			return fmt.Errorf("seed job %s: unknown job type %q", sj.ID, sj.Type)
		}
		if err := schedule.Validate(sj.Schedule); err != nil {
			return fmt.Errorf("seed job %s: %w", sj.ID, err)
		}

		cfg := []byte(`{}`)
		if sj.Config != nil {
			cfg, err = json.Marshal(sj.Config)
			if err != nil {
				return fmt.Errorf("seed job %s: encode config: %w", sj.ID, err)
			}
		}

		enabled := true
		if sj.Enabled != nil {
			enabled = *sj.Enabled
		}
		maxRetries := model.DefaultMaxRetries
		if sj.MaxRetries != nil {
			maxRetries = *sj.MaxRetries
		}
		retryDelay := model.DefaultRetryDelaySeconds
		if sj.RetryDelaySeconds != nil {
			retryDelay = *sj.RetryDelaySeconds
		}
		alertOnFailure := true
		if sj.AlertOnFailure != nil {
			alertOnFailure = *sj.AlertOnFailure
		}

		job := &model.Job{
			ID:                sj.ID,
			Name:              sj.Name,
			Description:       sj.Description,
			JobType:           sj.Type,
			Schedule:          sj.Schedule,
			Enabled:           enabled,
			Config:            cfg,
			MaxRetries:        maxRetries,
			RetryDelaySeconds: retryDelay,
			AlertOnFailure:    alertOnFailure,
		}
		if err := registry.Register(ctx, job); err != nil {
			return err
		}
		logger.Debug().Str("job_id", sj.ID).Str("type", sj.Type).Msg("seeded job")
	}

	logger.Info().Int("jobs", len(f.Jobs)).Str("file", path).Msg("job definitions seeded")
	return nil
}
