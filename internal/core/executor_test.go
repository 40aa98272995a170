package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pds/homelab/internal/jobs"
	"github.com/pds/homelab/internal/model"
	"github.com/pds/homelab/internal/notify"
)

// recordingNotifier captures notifications instead of delivering them.
type recordingNotifier struct {
	sent []notify.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Notification) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func sqlContaining(fragment string) any {
	return mock.MatchedBy(func(q string) bool { return strings.Contains(q, fragment) })
}

type executorFixture struct {
	db       *mockDB
	runners  *jobs.Registry
	notifier *recordingNotifier
	svc      *ExecutorService
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	db := &mockDB{}
	runners := jobs.NewRegistry()
	notifier := &recordingNotifier{}
	logger := zerolog.Nop()
	svcs := NewServices(db, runners, notifier, 24*time.Hour, logger)
	return &executorFixture{db: db, runners: runners, notifier: notifier, svc: svcs.Executor}
}

// expectJobRow wires GetByID to return the given job.
func (f *executorFixture) expectJobRow(job *model.Job) {
	now := time.Now().Truncate(time.Microsecond)
	row := &mockRow{scanFunc: scanTestJob(job, now)}
	f.db.On("QueryRow", mock.Anything, sqlContaining("FROM jobs WHERE id"), mock.Anything).Return(row)
}

// expectReserve wires the idle-to-running transition. won=false simulates
// losing the race to another trigger.
func (f *executorFixture) expectReserve(won bool) {
	n := 0
	if won {
		n = 1
	}
	f.db.On("Exec", mock.Anything, sqlContaining("running_since = now()"), mock.Anything).Return(tagAffecting(n), nil)
}

func (f *executorFixture) expectRelease() {
	f.db.On("Exec", mock.Anything, sqlContaining("running_since = NULL WHERE id"), mock.Anything).Return(tagAffecting(1), nil)
}

func (f *executorFixture) expectRecord() {
	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int64)) = 1
		return nil
	}}
	f.db.On("QueryRow", mock.Anything, sqlContaining("INSERT INTO job_runs"), mock.Anything).Return(row)
	f.db.On("Exec", mock.Anything, sqlContaining("last_run_at"), mock.Anything).Return(tagAffecting(1), nil)
}

// expectRecordCapture collects the INSERT arguments of every recorded
// attempt so retry tests can inspect trigger type and attempt number.
func (f *executorFixture) expectRecordCapture(captured *[][]any) {
	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int64)) = 1
		return nil
	}}
	f.db.On("QueryRow", mock.Anything, sqlContaining("INSERT INTO job_runs"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 10 {
			return false
		}
		*captured = append(*captured, args)
		return true
	})).Return(row)
	f.db.On("Exec", mock.Anything, sqlContaining("last_run_at"), mock.Anything).Return(tagAffecting(1), nil)
}

func enabledJob(jobType string) *model.Job {
	j := testJob()
	j.JobType = jobType
	return j
}

// ---------- RunJob ----------

func TestExecutorService_RunJob_Success(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	f.runners.Register("speedtest", jobs.RunnerFunc(func(context.Context, json.RawMessage, zerolog.Logger) (jobs.Result, error) {
		return jobs.Result{ExitCode: 0, Output: "download 312 Mbps"}, nil
	}))

	f.expectJobRow(enabledJob("speedtest"))
	f.expectReserve(true)
	f.expectRecord()
	f.expectRelease()

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerManual)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.True(t, run.Success)
	assert.Equal(t, 0, run.ExitCode)
	assert.Equal(t, "download 312 Mbps", run.Output)
	assert.NotEmpty(t, run.RunID)
	assert.Empty(t, f.notifier.sent)
	f.db.AssertExpectations(t)
}

func TestExecutorService_RunJob_DisabledScheduledSkips(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	job := enabledJob("speedtest")
	job.Enabled = false
	f.expectJobRow(job)

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerScheduled)
	require.NoError(t, err)
	assert.Nil(t, run)
	// No reservation, no history row.
	f.db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutorService_RunJob_DisabledManualStillRuns(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	f.runners.Register("speedtest", jobs.RunnerFunc(func(context.Context, json.RawMessage, zerolog.Logger) (jobs.Result, error) {
		return jobs.Result{}, nil
	}))

	job := enabledJob("speedtest")
	job.Enabled = false
	f.expectJobRow(job)
	f.expectReserve(true)
	f.expectRecord()
	f.expectRelease()

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerManual)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.True(t, run.Success)
}

func TestExecutorService_RunJob_AlreadyRunning(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	f.expectJobRow(enabledJob("speedtest"))
	f.expectReserve(false)
	f.expectRelease()

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerManual)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobAlreadyRunning)
	assert.Nil(t, run)
	// The loser must not write history.
	f.db.AssertNotCalled(t, "QueryRow", mock.Anything, sqlContaining("INSERT INTO job_runs"), mock.Anything)
}

func TestExecutorService_RunJob_NotFound(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		return pgx.ErrNoRows
	}}
	f.db.On("QueryRow", mock.Anything, sqlContaining("FROM jobs WHERE id"), mock.Anything).Return(row)

	run, err := f.svc.RunJob(ctx, "missing", model.TriggerManual)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Nil(t, run)
}

func TestExecutorService_RunJob_StorageOutageIsNotNotFound(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		return errors.New("connection refused")
	}}
	f.db.On("QueryRow", mock.Anything, sqlContaining("FROM jobs WHERE id"), mock.Anything).Return(row)

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerManual)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrJobNotFound)
	assert.Nil(t, run)
}

func TestExecutorService_RunJob_FailureRecordedAndAlerted(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	f.runners.Register("speedtest", jobs.RunnerFunc(func(context.Context, json.RawMessage, zerolog.Logger) (jobs.Result, error) {
		return jobs.Result{ExitCode: 2, Output: "partial"}, errors.New("download below threshold")
	}))

	f.expectJobRow(enabledJob("speedtest"))
	f.expectReserve(true)
	f.expectRecord()
	f.expectRelease()
	// Alert claim wins, so a notification goes out.
	f.db.On("Exec", mock.Anything, sqlContaining("alert_states"), mock.Anything).Return(tagAffecting(1), nil)

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerScheduled)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.False(t, run.Success)
	assert.Equal(t, 2, run.ExitCode)
	assert.Equal(t, "download below threshold", run.ErrorMessage)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "Job Failed: Speed Test", f.notifier.sent[0].Title)
	assert.Equal(t, "error", f.notifier.sent[0].Severity)
}

func TestExecutorService_RunJob_ErrorWithZeroExitCodeFails(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	f.runners.Register("speedtest", jobs.RunnerFunc(func(context.Context, json.RawMessage, zerolog.Logger) (jobs.Result, error) {
		return jobs.Result{ExitCode: 0}, errors.New("dns lookup failed")
	}))

	f.expectJobRow(enabledJob("speedtest"))
	f.expectReserve(true)
	f.expectRecord()
	f.expectRelease()
	f.db.On("Exec", mock.Anything, sqlContaining("alert_states"), mock.Anything).Return(tagAffecting(1), nil)

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerScheduled)
	require.NoError(t, err)
	assert.False(t, run.Success)
	assert.Equal(t, 1, run.ExitCode)
}

func TestExecutorService_RunJob_PanicBecomesFailure(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	f.runners.Register("speedtest", jobs.RunnerFunc(func(context.Context, json.RawMessage, zerolog.Logger) (jobs.Result, error) {
		panic("nil map write")
	}))

	f.expectJobRow(enabledJob("speedtest"))
	f.expectReserve(true)
	f.expectRecord()
	f.expectRelease()
	f.db.On("Exec", mock.Anything, sqlContaining("alert_states"), mock.Anything).Return(tagAffecting(1), nil)

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerManual)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.False(t, run.Success)
	assert.Contains(t, run.ErrorMessage, "job panicked")
	assert.NotEmpty(t, run.Output)
}

func TestExecutorService_RunJob_UnknownRunnerTypeFails(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	f.expectJobRow(enabledJob("does-not-exist"))
	f.expectReserve(true)
	f.expectRecord()
	f.expectRelease()
	f.db.On("Exec", mock.Anything, sqlContaining("alert_states"), mock.Anything).Return(tagAffecting(1), nil)

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerManual)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.False(t, run.Success)
	assert.Contains(t, run.ErrorMessage, "no runner registered")
}

func TestExecutorService_RunJob_RecordFailureSurfaces(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	f.runners.Register("speedtest", jobs.RunnerFunc(func(context.Context, json.RawMessage, zerolog.Logger) (jobs.Result, error) {
		return jobs.Result{}, nil
	}))

	f.expectJobRow(enabledJob("speedtest"))
	f.expectReserve(true)
	f.expectRelease()
	row := &mockRow{scanFunc: func(dest ...any) error {
		return errors.New("disk full")
	}}
	f.db.On("QueryRow", mock.Anything, sqlContaining("INSERT INTO job_runs"), mock.Anything).Return(row)

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerManual)
	require.Error(t, err)
	assert.Nil(t, run)
	assert.Contains(t, err.Error(), "record run")
}

// ---------- Retry policy ----------

func TestExecutorService_RunJob_RetriesUntilSuccess(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	calls := 0
	f.runners.Register("speedtest", jobs.RunnerFunc(func(context.Context, json.RawMessage, zerolog.Logger) (jobs.Result, error) {
		calls++
		if calls == 1 {
			return jobs.Result{ExitCode: 1}, errors.New("transient dns failure")
		}
		return jobs.Result{Output: "recovered"}, nil
	}))

	job := enabledJob("speedtest")
	job.MaxRetries = 3
	job.RetryDelaySeconds = 0
	f.expectJobRow(job)
	f.expectReserve(true)
	var recorded [][]any
	f.expectRecordCapture(&recorded)
	f.expectRelease()

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerScheduled)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.True(t, run.Success)
	assert.Equal(t, 2, run.Attempt)

	// Both attempts are durable history; the second carries the retry trigger.
	require.Len(t, recorded, 2)
	assert.Equal(t, model.TriggerScheduled, recorded[0][2])
	assert.Equal(t, 1, recorded[0][3])
	assert.Equal(t, model.TriggerRetry, recorded[1][2])
	assert.Equal(t, 2, recorded[1][3])

	// Recovery within the budget is a success, so no alert.
	assert.Empty(t, f.notifier.sent)
	f.db.AssertNotCalled(t, "Exec", mock.Anything, sqlContaining("alert_states"), mock.Anything)
}

func TestExecutorService_RunJob_RetryBudgetExhaustedAlertsOnce(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	calls := 0
	f.runners.Register("speedtest", jobs.RunnerFunc(func(context.Context, json.RawMessage, zerolog.Logger) (jobs.Result, error) {
		calls++
		return jobs.Result{ExitCode: 1}, errors.New("still down")
	}))

	job := enabledJob("speedtest")
	job.MaxRetries = 2
	job.RetryDelaySeconds = 0
	f.expectJobRow(job)
	f.expectReserve(true)
	var recorded [][]any
	f.expectRecordCapture(&recorded)
	f.expectRelease()
	f.db.On("Exec", mock.Anything, sqlContaining("alert_states"), mock.Anything).Return(tagAffecting(1), nil)

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerScheduled)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.False(t, run.Success)
	assert.Equal(t, 2, run.Attempt)
	assert.Equal(t, 2, calls)
	assert.Len(t, recorded, 2)
	// One alert for the whole trigger, not one per attempt.
	assert.Len(t, f.notifier.sent, 1)
}

func TestExecutorService_RunJob_AlertOnFailureDisabledStaysSilent(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	f.runners.Register("speedtest", jobs.RunnerFunc(func(context.Context, json.RawMessage, zerolog.Logger) (jobs.Result, error) {
		return jobs.Result{ExitCode: 1}, errors.New("noisy but expected")
	}))

	job := enabledJob("speedtest")
	job.AlertOnFailure = false
	f.expectJobRow(job)
	f.expectReserve(true)
	f.expectRecord()
	f.expectRelease()

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerScheduled)
	require.NoError(t, err)
	assert.False(t, run.Success)
	assert.Empty(t, f.notifier.sent)
	f.db.AssertNotCalled(t, "Exec", mock.Anything, sqlContaining("alert_states"), mock.Anything)
}

func TestExecutorService_RunJob_ZeroRetryBudgetRunsOnce(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	calls := 0
	f.runners.Register("speedtest", jobs.RunnerFunc(func(context.Context, json.RawMessage, zerolog.Logger) (jobs.Result, error) {
		calls++
		return jobs.Result{ExitCode: 1}, errors.New("down")
	}))

	job := enabledJob("speedtest")
	job.MaxRetries = 0
	f.expectJobRow(job)
	f.expectReserve(true)
	f.expectRecord()
	f.expectRelease()
	f.db.On("Exec", mock.Anything, sqlContaining("alert_states"), mock.Anything).Return(tagAffecting(1), nil)

	run, err := f.svc.RunJob(ctx, "speedtest", model.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, run.Attempt)
}

// ---------- ResetStale ----------

func TestExecutorService_ResetStale(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	var query string
	f.db.On("Exec", mock.Anything, mock.MatchedBy(func(q string) bool {
		query = q
		return true
	}), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 2"), nil)

	n, err := f.svc.ResetStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	// A fresh running row may belong to a live process elsewhere.
	assert.Contains(t, query, "running_since <")
	f.db.AssertExpectations(t)
}
