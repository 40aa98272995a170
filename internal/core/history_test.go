package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pds/homelab/internal/model"
)

func completedRun(success bool) *model.JobRun {
	start := time.Now().Add(-time.Minute)
	return &model.JobRun{
		RunID:       "run_test1",
		JobID:       "speedtest",
		TriggerType: model.TriggerScheduled,
		StartedAt:   start,
		EndedAt:     start.Add(30 * time.Second),
		Success:     success,
		Output:      "ok",
	}
}

// ---------- Record ----------

func TestRunHistoryService_Record_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewRunHistoryService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int64)) = 42
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(tagAffecting(1), nil)

	run := completedRun(true)
	err := svc.Record(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, int64(42), run.ID)
	db.AssertExpectations(t)
}

func TestRunHistoryService_Record_RejectsInvertedTimestamps(t *testing.T) {
	db := &mockDB{}
	svc := NewRunHistoryService(db)
	ctx := context.Background()

	run := completedRun(true)
	run.EndedAt = run.StartedAt.Add(-time.Second)

	err := svc.Record(ctx, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ended_at before started_at")
	db.AssertNotCalled(t, "QueryRow")
}

func TestRunHistoryService_Record_TruncatesOutput(t *testing.T) {
	db := &mockDB{}
	svc := NewRunHistoryService(db)
	ctx := context.Background()

	var stored string
	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int64)) = 1
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		stored = args[8].(string)
		return true
	})).Return(row)
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(tagAffecting(1), nil)

	run := completedRun(true)
	run.Output = strings.Repeat("x", model.MaxCapturedOutput+100)

	err := svc.Record(ctx, run)
	require.NoError(t, err)
	assert.Len(t, stored, model.MaxCapturedOutput)
	db.AssertExpectations(t)
}

// ---------- ListForJob ----------

func TestRunHistoryService_ListForJob_AppliesSinceFilter(t *testing.T) {
	db := &mockDB{}
	svc := NewRunHistoryService(db)
	ctx := context.Background()

	since := time.Now().Add(-24 * time.Hour)

	var query string
	db.On("Query", ctx, mock.MatchedBy(func(q string) bool {
		query = q
		return true
	}), mock.Anything).Return(newMockRows(), nil)

	_, err := svc.ListForJob(ctx, "speedtest", 50, since)
	require.NoError(t, err)
	assert.Contains(t, query, "started_at >= $2")
	assert.Contains(t, query, "LIMIT $3")
	assert.Contains(t, query, "ORDER BY started_at DESC")
	db.AssertExpectations(t)
}

func TestRunHistoryService_ListForJob_NoSince(t *testing.T) {
	db := &mockDB{}
	svc := NewRunHistoryService(db)
	ctx := context.Background()

	var query string
	db.On("Query", ctx, mock.MatchedBy(func(q string) bool {
		query = q
		return true
	}), mock.Anything).Return(newMockRows(), nil)

	_, err := svc.ListForJob(ctx, "speedtest", 50, time.Time{})
	require.NoError(t, err)
	assert.NotContains(t, query, "started_at >=")
	assert.Contains(t, query, "LIMIT $2")
	db.AssertExpectations(t)
}

// ---------- Failures ----------

func TestRunHistoryService_RecentFailures_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewRunHistoryService(db)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	rows := newMockRows(func(dest ...any) error {
		*(dest[0].(*int64)) = 7
		*(dest[1].(*string)) = "run_fail1"
		*(dest[2].(*string)) = "speedtest"
		*(dest[3].(*string)) = "Speed Test"
		*(dest[4].(*string)) = model.TriggerScheduled
		*(dest[5].(*int)) = 1
		*(dest[6].(*time.Time)) = now.Add(-time.Minute)
		*(dest[7].(*time.Time)) = now
		*(dest[8].(*bool)) = false
		*(dest[9].(*int)) = 1
		*(dest[10].(*string)) = ""
		*(dest[11].(*string)) = "download below threshold"
		return nil
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	failures, err := svc.RecentFailures(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "Speed Test", failures[0].JobName)
	assert.False(t, failures[0].Success)
	db.AssertExpectations(t)
}

func TestRunHistoryService_ClearRecentFailures_ReturnsCount(t *testing.T) {
	db := &mockDB{}
	svc := NewRunHistoryService(db)
	ctx := context.Background()

	var query string
	db.On("Exec", ctx, mock.MatchedBy(func(q string) bool {
		query = q
		return true
	}), mock.Anything).Return(tagAffecting(1), nil)

	n, err := svc.ClearRecentFailures(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	// Only failed rows inside the window may be deleted.
	assert.Contains(t, query, "success = false")
	assert.Contains(t, query, "ended_at >=")
	db.AssertExpectations(t)
}

// ---------- Stats ----------

func TestRunHistoryService_Stats_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewRunHistoryService(db)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int)) = 10
		*(dest[1].(*int)) = 8
		*(dest[2].(*int)) = 2
		*(dest[3].(**time.Time)) = &now
		*(dest[4].(**time.Time)) = &now
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	st, err := svc.Stats(ctx, "speedtest")
	require.NoError(t, err)
	assert.Equal(t, 10, st.TotalRuns)
	assert.Equal(t, 8, st.SuccessCount)
	assert.Equal(t, 2, st.FailureCount)
	require.NotNil(t, st.LastRunAt)
	db.AssertExpectations(t)
}

func TestRunHistoryService_GlobalStats_SuccessRate(t *testing.T) {
	db := &mockDB{}
	svc := NewRunHistoryService(db)
	ctx := context.Background()

	jobRow := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int)) = 4
		*(dest[1].(*int)) = 3
		return nil
	}}
	runRow := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int)) = 20
		*(dest[1].(*int)) = 15
		*(dest[2].(*int)) = 5
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(jobRow).Once()
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(runRow).Once()

	g, err := svc.GlobalStats(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, g.TotalJobs)
	assert.Equal(t, 3, g.EnabledJobs)
	assert.InDelta(t, 75.0, g.SuccessRate, 0.001)
	db.AssertExpectations(t)
}

func TestRunHistoryService_GlobalStats_NoRuns(t *testing.T) {
	db := &mockDB{}
	svc := NewRunHistoryService(db)
	ctx := context.Background()

	zeroRow := &mockRow{scanFunc: func(dest ...any) error { return nil }}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(zeroRow)

	g, err := svc.GlobalStats(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, g.SuccessRate)
	db.AssertExpectations(t)
}

func TestRunHistoryService_Stats_DBError(t *testing.T) {
	db := &mockDB{}
	svc := NewRunHistoryService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		return errors.New("connection reset")
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := svc.Stats(ctx, "speedtest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stats for job")
	db.AssertExpectations(t)
}
