package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pds/homelab/internal/api/request"
	"github.com/pds/homelab/internal/api/response"
	"github.com/pds/homelab/internal/core"
	"github.com/pds/homelab/internal/jobs"
	"github.com/pds/homelab/internal/model"
	"github.com/pds/homelab/internal/schedule"
)

// Automation serves the /api/automation surface consumed by the dashboard.
type Automation struct {
	services *core.Services
	runners  *jobs.Registry
}

func NewAutomation(services *core.Services, runners *jobs.Registry) *Automation {
	return &Automation{services: services, runners: runners}
}

// jobView is a job definition decorated for display.
type jobView struct {
	model.Job
	ScheduleHuman string          `json:"schedule_human"`
	NextRunAt     *time.Time      `json:"next_run_at,omitempty"`
	Stats         *model.JobStats `json:"stats,omitempty"`
}

func (h *Automation) view(job *model.Job, stats *model.JobStats) jobView {
	v := jobView{
		Job:           *job,
		ScheduleHuman: schedule.Humanize(job.Schedule),
		Stats:         stats,
	}
	if next := schedule.Next(job.Schedule, time.Now()); !next.IsZero() {
		v.NextRunAt = &next
	}
	return v
}

// writeServiceError maps the core error taxonomy onto HTTP statuses so the
// UI can tell "already running" from "not found" from a real failure.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrJobNotFound):
		response.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrJobAlreadyRunning):
		response.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrDuplicateJob):
		response.WriteError(w, http.StatusConflict, err.Error())
	default:
		response.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// ListJobs returns all job definitions with per-job aggregate stats.
func (h *Automation) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.services.Registry.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]jobView, 0, len(list))
	for i := range list {
		stats, err := h.services.History.Stats(r.Context(), list[i].ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		views = append(views, h.view(&list[i], stats))
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

// GetJob returns one job's detail and config.
func (h *Automation) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.services.Registry.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	stats, err := h.services.History.Stats(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, h.view(job, stats))
}

// CreateJob registers a new definition. Duplicate IDs are a conflict, not an
// upsert: the dashboard create form must not silently overwrite a job.
func (h *Automation) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req request.CreateJob
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := schedule.Validate(req.Schedule); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := h.runners.Get(req.JobType); !ok {
		response.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown job type %q", req.JobType))
		return
	}
	if len(req.Config) > 0 && !json.Valid(req.Config) {
		response.WriteError(w, http.StatusBadRequest, "config must be valid JSON")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	cfg := req.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage(`{}`)
	}
	maxRetries := model.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	retryDelay := model.DefaultRetryDelaySeconds
	if req.RetryDelaySeconds != nil {
		retryDelay = *req.RetryDelaySeconds
	}
	alertOnFailure := true
	if req.AlertOnFailure != nil {
		alertOnFailure = *req.AlertOnFailure
	}

	job := &model.Job{
		ID:                req.ID,
		Name:              req.Name,
		Description:       req.Description,
		JobType:           req.JobType,
		Schedule:          req.Schedule,
		Enabled:           enabled,
		Config:            cfg,
		MaxRetries:        maxRetries,
		RetryDelaySeconds: retryDelay,
		AlertOnFailure:    alertOnFailure,
	}
	if err := h.services.Registry.RegisterNew(r.Context(), job); err != nil {
		writeServiceError(w, err)
		return
	}

	created, err := h.services.Registry.GetByID(r.Context(), job.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, h.view(created, nil))
}

// UpdateJob mutates config, enabled, and schedule. Absent fields are left
// untouched.
func (h *Automation) UpdateJob(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateJob
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Schedule != nil {
		if err := schedule.Validate(*req.Schedule); err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.services.Registry.UpdateSchedule(r.Context(), id, *req.Schedule); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if req.Config != nil {
		if !json.Valid(req.Config) {
			response.WriteError(w, http.StatusBadRequest, "config must be valid JSON")
			return
		}
		if err := h.services.Registry.UpdateConfig(r.Context(), id, req.Config); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if req.Enabled != nil {
		if err := h.services.Registry.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if req.MaxRetries != nil || req.RetryDelaySeconds != nil {
		// Partial retry updates keep the other half of the current policy.
		current, err := h.services.Registry.GetByID(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		maxRetries := current.MaxRetries
		if req.MaxRetries != nil {
			maxRetries = *req.MaxRetries
		}
		retryDelay := current.RetryDelaySeconds
		if req.RetryDelaySeconds != nil {
			retryDelay = *req.RetryDelaySeconds
		}
		if err := h.services.Registry.UpdateRetryPolicy(r.Context(), id, maxRetries, retryDelay); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	if req.AlertOnFailure != nil {
		if err := h.services.Registry.SetAlertOnFailure(r.Context(), id, *req.AlertOnFailure); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	job, err := h.services.Registry.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	stats, err := h.services.History.Stats(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, h.view(job, stats))
}

// TriggerJob runs a job manually and synchronously returns the run record.
func (h *Automation) TriggerJob(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.services.Executor.RunJob(r.Context(), id, model.TriggerManual)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"run": run})
}

// ToggleJob flips the enabled flag and returns the new value.
func (h *Automation) ToggleJob(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled, err := h.services.Registry.ToggleEnabled(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

// ListRuns returns a job's run history, most recent first.
func (h *Automation) ListRuns(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.services.Registry.GetByID(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	q := request.ParseRunsQuery(r)
	runs, err := h.services.History.ListForJob(r.Context(), id, q.Limit, q.Since)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if runs == nil {
		runs = []model.JobRun{}
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Stats returns the global aggregate across all jobs.
func (h *Automation) Stats(w http.ResponseWriter, r *http.Request) {
	window := request.ParseWindowHours(r)
	stats, err := h.services.History.GlobalStats(r.Context(), window)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, stats)
}

// ListFailures returns recent failed runs across all jobs.
func (h *Automation) ListFailures(w http.ResponseWriter, r *http.Request) {
	window := request.ParseWindowHours(r)
	failures, err := h.services.History.RecentFailures(r.Context(), window)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if failures == nil {
		failures = []model.JobRun{}
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"failures":     failures,
		"window_hours": int(window.Hours()),
	})
}

// ClearFailures deletes failed runs inside the window and resets alert dedup
// state so the next failure alerts again immediately.
func (h *Automation) ClearFailures(w http.ResponseWriter, r *http.Request) {
	window := request.ParseWindowHours(r)
	cleared, err := h.services.History.ClearRecentFailures(r.Context(), window)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.services.Alerts.Reset(r.Context(), window); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to reset alert state")
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

// DeleteJob removes a job and its run history.
func (h *Automation) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.services.Registry.Deregister(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
