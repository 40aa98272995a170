package core

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/pds/homelab/internal/jobs"
)

type Services struct {
	Registry *JobRegistryService
	History  *RunHistoryService
	Alerts   *AlertService
	Executor *ExecutorService
}

func NewServices(db DB, runners *jobs.Registry, notifier Notifier, alertDedup time.Duration, logger zerolog.Logger) *Services {
	registry := NewJobRegistryService(db)
	history := NewRunHistoryService(db)
	alerts := NewAlertService(db, notifier, alertDedup, logger)
	return &Services{
		Registry: registry,
		History:  history,
		Alerts:   alerts,
		Executor: NewExecutorService(db, registry, history, alerts, runners, logger),
	}
}
